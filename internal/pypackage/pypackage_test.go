package pypackage

import "testing"

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Flask":             "flask",
		"zope.interface":    "zope-interface",
		"typing_extensions": "typing-extensions",
		"a--b__c..d":        "a-b-c-d",
		" requests ":        "requests",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDependencyTreeFind(t *testing.T) {
	tree := &DependencyTree{
		Root: PackageInfo{Name: "Flask", Version: "3.0.0"},
		Packages: []PackageInfo{
			{Name: "Flask", Version: "3.0.0"},
			{Name: "Jinja2", Version: "3.1.4"},
			{Name: "markupsafe", Version: "2.1.5"},
		},
	}
	if p, ok := tree.Find("flask"); !ok || p.Version != "3.0.0" {
		t.Errorf("expected root lookup, got %+v %v", p, ok)
	}
	if p, ok := tree.Find("MarkupSafe"); !ok || p.Pinned() != "markupsafe==2.1.5" {
		t.Errorf("expected dependency lookup, got %+v %v", p, ok)
	}
	if _, ok := tree.Find("django"); ok {
		t.Error("unexpected match")
	}
	if tree.Len() != 3 {
		t.Errorf("expected root plus 2 deps, got %d", tree.Len())
	}
	direct := PackageInfo{Name: "tool", Source: "git+https://github.com/acme/tool.git"}
	if !direct.IsDirect() || tree.Root.IsDirect() {
		t.Error("unexpected IsDirect result")
	}
}

func TestAssetTypeString(t *testing.T) {
	if Binary.String() != "binary" || CompiledExt.String() != "compiled-ext" || Source.String() != "source" || Data.String() != "data" {
		t.Error("unexpected asset type names")
	}
}

func TestDeriveName(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"cowsay", "cowsay"},
		{"https://github.com/acme/tool.git", "tool"},
		{"git+https://github.com/acme/tool", "tool"},
		{"https://gitlab.com/group/sub/app/", "app"},
		{"git@github.com:acme/cli.git", "cli"},
	}
	for _, tt := range tests {
		if got := DeriveName(tt.ref); got != tt.want {
			t.Errorf("DeriveName(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestRequirementName(t *testing.T) {
	tests := map[string]string{
		"requests":                              "requests",
		"requests[socks]>=2.0":                  "requests",
		"flask==3.0.0":                          "flask",
		"django ; python_version > '3.8'":       "django",
		"https://github.com/acme/tool.git@v1.2": "tool",
	}
	for in, want := range tests {
		if got := RequirementName(in); got != want {
			t.Errorf("RequirementName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsGitRef(t *testing.T) {
	for _, ref := range []string{"git+https://example.com/x", "https://example.com/x.git", "github.com/acme/tool"} {
		if !IsGitRef(ref) {
			t.Errorf("expected %q to be a git ref", ref)
		}
	}
	if IsGitRef("requests") || LooksLikeURL("requests>=2") {
		t.Error("plain requirement misdetected")
	}
}
