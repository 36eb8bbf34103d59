package statusstore

import "testing"

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "namespace",
			key:  Key{Namespace: "prod", ExchangeID: "abc"},
			want: "exchange:status:prod:abc",
		},
		{
			name: "empty namespace",
			key:  Key{ExchangeID: "abc"},
			want: "exchange:status:default:abc",
		},
		{
			name: "namespace with separators",
			key:  Key{Namespace: ":staging: ", ExchangeID: "abc"},
			want: "exchange:status:staging:abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIndexKey(t *testing.T) {
	if got := indexKey("prod"); got != "exchange:status:prod:index" {
		t.Errorf("indexKey() = %q", got)
	}
	if got := indexKey(""); got != "exchange:status:default:index" {
		t.Errorf("indexKey(\"\") = %q", got)
	}
}
