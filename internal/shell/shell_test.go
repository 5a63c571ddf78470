package shell

import (
	"reflect"
	"testing"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantPaths []string
		wantSync  bool
	}{
		{
			name:      "simple args",
			line:      "cat foo.txt bar",
			wantPaths: []string{"foo.txt", "bar"},
		},
		{
			name:      "options are not paths",
			line:      "ls -la /tmp",
			wantPaths: []string{"/tmp"},
		},
		{
			name:      "quoted argument keeps source",
			line:      `cp "$HOME/a b" ~/c`,
			wantPaths: []string{`"$HOME/a b"`, "~/c"},
		},
		{
			name:      "pipeline",
			line:      "cat a | grep b",
			wantPaths: []string{"a", "b"},
		},
		{
			name:     "exit forces sync",
			line:     "exit 0",
			wantSync: true,
			wantPaths: []string{
				"0",
			},
		},
		{
			name:      "echo forces sync",
			line:      "echo hello",
			wantSync:  true,
			wantPaths: []string{"hello"},
		},
		{
			name:      "exec forces sync",
			line:      "exec vim notes",
			wantSync:  true,
			wantPaths: []string{"vim", "notes"},
		},
		{
			name: "no args",
			line: "pwd",
		},
		{
			name: "parse error",
			line: "if then",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.line)
			if !reflect.DeepEqual(got.PotentialPaths, tt.wantPaths) {
				t.Errorf("Analyze(%q).PotentialPaths = %q, want %q", tt.line, got.PotentialPaths, tt.wantPaths)
			}
			if got.NeedsSyncWrite != tt.wantSync {
				t.Errorf("Analyze(%q).NeedsSyncWrite = %v, want %v", tt.line, got.NeedsSyncWrite, tt.wantSync)
			}
		})
	}
}

func TestCheckSyntax(t *testing.T) {
	valid := []string{"ls -la", "for i in 1 2; do echo $i; done", "a=1 b"}
	for _, line := range valid {
		if err := CheckSyntax(line); err != nil {
			t.Errorf("CheckSyntax(%q) error = %v", line, err)
		}
	}

	invalid := []string{"echo 'unterminated", "if true; then", "(("}
	for _, line := range invalid {
		if err := CheckSyntax(line); err == nil {
			t.Errorf("CheckSyntax(%q) = nil, want error", line)
		}
	}
}

func TestExpandPath(t *testing.T) {
	vars := Vars{"HOME": "/home/u", "DIR": "src"}

	tests := []struct {
		src     string
		want    string
		wantErr bool
	}{
		{src: "plain", want: "plain"},
		{src: "$HOME/x", want: "/home/u/x"},
		{src: "${DIR}/main.go", want: "src/main.go"},
		{src: `"$HOME/a b"`, want: "/home/u/a b"},
		{src: "'$HOME'", want: "$HOME"},
		{src: "~/notes", want: "/home/u/notes"},
		{src: "$(whoami)", wantErr: true},
		{src: "a b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := ExpandPath(tt.src, vars)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExpandPath(%q) = %q, want error", tt.src, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandPath(%q) error = %v", tt.src, err)
			}
			if got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.src, got, tt.want)
			}
		})
	}
}

func TestContainsWildcard(t *testing.T) {
	tests := map[string]bool{
		"*.go":       true,
		"file?.txt":  true,
		"[ab].c":     true,
		`\*.go`:      false,
		"'*.go'":     false,
		`"*.go"`:     false,
		"plain/path": false,
	}
	for src, want := range tests {
		if got := ContainsWildcard(src); got != want {
			t.Errorf("ContainsWildcard(%q) = %v, want %v", src, got, want)
		}
	}
}

func TestVars(t *testing.T) {
	v := FromEnviron([]string{"A=1", "B=two=2", "broken", "=x"}, "/work")

	if got, _ := v.Get("B"); got != "two=2" {
		t.Errorf("Get(B) = %q, want %q", got, "two=2")
	}
	if _, ok := v.Get("broken"); ok {
		t.Error("entry without '=' should be ignored")
	}
	if got := v.PWDSlash(); got != "/work/" {
		t.Errorf("PWDSlash() = %q, want /work/", got)
	}

	clone := v.Clone()
	clone.Set("A", "changed")
	if got, _ := v.Get("A"); got != "1" {
		t.Errorf("Clone shares storage: A = %q", got)
	}
}

func TestValidVarName(t *testing.T) {
	tests := map[string]bool{
		"fish":     true,
		"my_hist2": true,
		"":         false,
		"has-dash": false,
		"sp ace":   false,
		"ünicode":  false,
	}
	for name, want := range tests {
		if got := ValidVarName(name); got != want {
			t.Errorf("ValidVarName(%q) = %v, want %v", name, got, want)
		}
	}
}
