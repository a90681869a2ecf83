package resolver

import "testing"

// FuzzParseLock checks that arbitrary lock content never panics and that
// every returned entry is named.
func FuzzParseLock(f *testing.F) {
	f.Add(flaskLock)
	f.Add("")
	f.Add("\\\n\\\n")
	f.Add("name @ git+https://example.com/x.git#egg=name")
	f.Add("pkg[extra]==1.0 ; sys_platform == 'win32' --hash=sha256:00")
	f.Add("--index-url https://pypi.org/simple\n-e .")

	f.Fuzz(func(t *testing.T, content string) {
		entries, err := ParseLock([]byte(content))
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.Name == "" {
				t.Errorf("entry without a name from %q", e.Raw)
			}
		}
	})
}
