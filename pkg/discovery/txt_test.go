package discovery

import "testing"

func TestParseTXT(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		want    map[string]string
	}{
		{
			name:    "basic records",
			records: []string{"id=testkey", "mode=psk"},
			want:    map[string]string{"id": "testkey", "mode": "psk"},
		},
		{
			name:    "empty value kept",
			records: []string{"flag="},
			want:    map[string]string{"flag": ""},
		},
		{
			name:    "value containing equals",
			records: []string{"note=a=b"},
			want:    map[string]string{"note": "a=b"},
		},
		{
			name:    "no separator skipped",
			records: []string{"bare", "id=testkey"},
			want:    map[string]string{"id": "testkey"},
		},
		{
			name:    "empty key skipped",
			records: []string{"=value"},
			want:    map[string]string{},
		},
		{
			name:    "repeated key last wins",
			records: []string{"id=first", "id=second"},
			want:    map[string]string{"id": "second"},
		},
		{
			name:    "empty input",
			records: nil,
			want:    map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTXT(tt.records)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseTXT() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("ParseTXT()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
