package resolver

import (
	"fmt"
	"time"

	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage"
)

// MockVersion is the version given to every synthetic package.
const MockVersion = "1.0.0"

var mockDependencyCounts = map[string]int{
	"cowsay":   0,
	"requests": 4,
	"flask":    5,
	"django":   2,
	"numpy":    0,
}

// Mock builds a deterministic synthetic tree for ref. It is only meant for
// offline runs and tests; the result is flagged with Metadata.Mock.
func Mock(ref string, target platform.Target, pythonVersion string) *pypackage.DependencyTree {
	name := pypackage.RequirementName(ref)
	root := pypackage.PackageInfo{Name: name, Version: MockVersion}
	packages := []pypackage.PackageInfo{root}

	count := mockDependencyCounts[pypackage.NormalizeName(name)]
	for i := 1; i <= count; i++ {
		dep := fmt.Sprintf("%s-dep-%d", name, i)
		packages[0].Dependencies = append(packages[0].Dependencies, dep)
		packages = append(packages, pypackage.PackageInfo{Name: dep, Version: MockVersion})
	}

	return &pypackage.DependencyTree{
		Root:     packages[0],
		Packages: packages,
		Metadata: pypackage.TreeMetadata{
			PythonVersion: pythonVersion,
			Target:        target,
			Timestamp:     time.Now().UTC(),
			Mock:          true,
			Resolver:      "mock",
		},
	}
}
