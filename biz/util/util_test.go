package util

import (
	"reflect"
	"testing"
)

func TestParseFundings(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"FND-1001,FND-1002", []string{"FND-1001", "FND-1002"}},
		{" FND-1001 , FND-1002 ", []string{"FND-1001", "FND-1002"}},
		{"FND-1001,,", []string{"FND-1001"}},
		{"", nil},
	}
	for _, tc := range cases {
		if got := ParseFundings(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseFundings(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
