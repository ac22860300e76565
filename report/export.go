package report

import (
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/davidroman0O/iflowpipe/config"
	"github.com/davidroman0O/iflowpipe/errors"
)

// Exporter writes reports to a filesystem
type Exporter struct {
	fs     billy.Filesystem
	dir    string
	format string
}

// NewExporter writes into dir of fs in the given format (json or yaml)
func NewExporter(fs billy.Filesystem, dir, format string) (*Exporter, error) {
	switch strings.ToLower(format) {
	case "", config.FormatJSON:
		format = config.FormatJSON
	case config.FormatYAML, "yml":
		format = config.FormatYAML
	default:
		return nil, errors.Newf(errors.ErrConfiguration, "unsupported report format %q", format)
	}
	return &Exporter{fs: fs, dir: dir, format: format}, nil
}

// Encode serializes a report in the exporter format
func (e *Exporter) Encode(r Report) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if e.format == config.FormatYAML {
		data, err = yaml.Marshal(r)
	} else {
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "failed to encode report")
	}
	return data, nil
}

// Export writes <dir>/<name>.<format> and returns its path
func (e *Exporter) Export(name string, r Report) (string, error) {
	if name == "" {
		name = r.RunID + "-report"
	}
	data, err := e.Encode(r)
	if err != nil {
		return "", err
	}
	if e.dir != "" {
		if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
			return "", errors.Wrap(err, errors.ErrConfiguration, "failed to create report directory "+e.dir)
		}
	}
	p := path.Join(e.dir, name+"."+e.format)
	if err := util.WriteFile(e.fs, p, data, 0o644); err != nil {
		return "", errors.Wrap(err, errors.ErrConfiguration, "failed to write report "+p)
	}
	return p, nil
}

// Remove deletes a file written by Export. A missing file is not an error.
func (e *Exporter) Remove(p string) error {
	if err := e.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrConfiguration, "failed to remove report "+p)
	}
	return nil
}

// Schema returns the JSON schema of Report
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Report{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrUnknown, "failed to encode report schema")
	}
	return data, nil
}
