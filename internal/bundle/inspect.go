package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/klauspost/compress/gzip"
	"github.com/open-edge-platform/bundlr/internal/bundle/payload"
)

// Inspection is what can be learned about a bundle without running it.
type Inspection struct {
	Path     string
	Size     int64
	Trailer  *payload.Trailer // nil when the bundle has no trailer
	Offset   int64
	Length   int64
	Metadata *Metadata
	Entries  []string
}

// Inspect reads the trailer, payload listing and metadata of a bundle.
func Inspect(bundlePath string) (*Inspection, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	ins := &Inspection{Path: bundlePath, Size: st.Size()}
	if t, err := payload.ReadTrailer(f, st.Size()); err == nil {
		if err := payload.Verify(f, t); err != nil {
			return nil, err
		}
		ins.Trailer = &t
	}
	ins.Offset, ins.Length, err = payload.Locate(f, st.Size())
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(io.NewSectionReader(f, ins.Offset, ins.Length))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payload.ErrCorrupt, err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", payload.ErrCorrupt, err)
		}
		ins.Entries = append(ins.Entries, hdr.Name)
		if path.Clean(hdr.Name) == payloadRoot+"/"+metadataName {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", payload.ErrCorrupt, err)
			}
			if ins.Metadata, err = ParseMetadata(data); err != nil {
				return nil, err
			}
		}
	}
	if ins.Metadata == nil {
		return nil, fmt.Errorf("%w: %s has no %s", payload.ErrCorrupt, bundlePath, metadataName)
	}
	return ins, nil
}
