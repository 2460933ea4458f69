package flowfile

import (
	"os"

	"github.com/goccy/go-json"

	"github.com/flow-tools/axf-deploy/pkg/errors"
)

// The flow definition is an externally-defined document. Deployment treats
// it as an opaque blob: only existence gates process start. Inspect is a
// best-effort convenience for operator logs and never gates anything.

// Info summarizes the envelope of a flow document
type Info struct {
	Name         string
	Description  string
	EndpointName string
	Nodes        int
	Edges        int
}

// graphDump mirrors the envelope of an exported flow document
type graphDump struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	EndpointName string    `json:"endpoint_name"`
	Data         graphData `json:"data"`
}

type graphData struct {
	Nodes []json.RawMessage `json:"nodes"`
	Edges []json.RawMessage `json:"edges"`
}

// Verify checks that the flow file exists and is a regular, non-empty file
func Verify(path string) error {
	if path == "" {
		return errors.NewValidationError("flow file path is required", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("flow file not found", err).WithContext("flow_file", path)
		}
		return errors.NewIOError("flow file not accessible", err).WithContext("flow_file", path)
	}
	if info.IsDir() {
		return errors.NewValidationError("flow file is a directory", nil).WithContext("flow_file", path)
	}
	if info.Size() == 0 {
		return errors.NewValidationError("flow file is empty", nil).WithContext("flow_file", path)
	}

	return nil
}

// Inspect decodes the flow document envelope for logging purposes
func Inspect(path string) (*Info, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read flow file", err).WithContext("flow_file", path)
	}

	var dump graphDump
	if err := json.Unmarshal(content, &dump); err != nil {
		return nil, errors.NewValidationError("flow file is not valid JSON", err).WithContext("flow_file", path)
	}

	return &Info{
		Name:         dump.Name,
		Description:  dump.Description,
		EndpointName: dump.EndpointName,
		Nodes:        len(dump.Data.Nodes),
		Edges:        len(dump.Data.Edges),
	}, nil
}
