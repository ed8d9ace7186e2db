package flagparse

import (
	"reflect"
	"testing"
)

func TestParseExcludeList(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "*.tmp", []string{"*.tmp"}},
		{"multiple", "*.tmp,node_modules,.git", []string{"*.tmp", "node_modules", ".git"}},
		{"whitespace", " *.tmp , build ", []string{"*.tmp", "build"}},
		{"quoted comma", `"a,b.txt",c`, []string{"a,b.txt", "c"}},
		{"single quotes", `'my file.log',*.bak`, []string{"my file.log", "*.bak"}},
		{"trailing comma", "a,", []string{"a"}},
		{"windows path", `C:\temp\cache`, []string{`C:\temp\cache`}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ParseExcludeList(c.in)
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("ParseExcludeList(%q) = %#v, want %#v", c.in, got, c.want)
			}
		})
	}
}
