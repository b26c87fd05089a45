// Package producer is the source side of the shadow store: it registers the
// signal catalogue at startup and feeds vehicle state into the store.
package producer

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/store"
)

//go:embed vehicle.yaml
var vehicleCatalog []byte

// CatalogEntry is one signal definition in a catalogue file.
type CatalogEntry struct {
	Path        string    `yaml:"path"`
	LeafType    string    `yaml:"leaf_type"`
	DataType    string    `yaml:"data_type"`
	Default     yaml.Node `yaml:"default"`
	Unit        string    `yaml:"unit"`
	Description string    `yaml:"description"`
	EndPoint    string    `yaml:"end_point"`
}

type catalogFile struct {
	Signals []CatalogEntry `yaml:"signals"`
}

// DefaultCatalog returns the built-in vehicle signals.
func DefaultCatalog() []proto.Signal {
	signals, err := ParseCatalog(vehicleCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalogue is invalid: %v", err))
	}
	return signals
}

// LoadCatalog reads a catalogue file, or returns the built-in one when path
// is empty.
func LoadCatalog(path string) ([]proto.Signal, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal catalogue: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalogue YAML into signals with capability and
// availability set. Description and end point default to values derived from
// the path.
func ParseCatalog(data []byte) ([]proto.Signal, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse signal catalogue: %w", err)
	}
	if len(file.Signals) == 0 {
		return nil, errors.New("signal catalogue defines no signals")
	}

	seen := make(map[string]struct{}, len(file.Signals))
	signals := make([]proto.Signal, 0, len(file.Signals))
	for i, entry := range file.Signals {
		sig, err := entry.signal()
		if err != nil {
			return nil, fmt.Errorf("signals[%d] (%s): %w", i, entry.Path, err)
		}
		if _, dup := seen[sig.Path]; dup {
			return nil, fmt.Errorf("signals[%d]: duplicate path %q", i, sig.Path)
		}
		seen[sig.Path] = struct{}{}
		signals = append(signals, sig)
	}
	return signals, nil
}

func (e CatalogEntry) signal() (proto.Signal, error) {
	leaf, err := proto.ParseLeafType(e.LeafType)
	if err != nil {
		return proto.Signal{}, err
	}
	dataType, err := proto.ParseValueType(e.DataType)
	if err != nil {
		return proto.Signal{}, err
	}
	value, err := decodeDefault(&e.Default, dataType)
	if err != nil {
		return proto.Signal{}, fmt.Errorf("default: %w", err)
	}

	sig := proto.Signal{
		Path:  e.Path,
		State: proto.State{Value: value, Capability: true, Availability: true},
		Config: proto.Config{
			LeafType:    leaf,
			DataType:    dataType,
			Description: e.Description,
			EndPoint:    e.EndPoint,
			Unit:        e.Unit,
		},
	}
	if sig.Config.Description == "" {
		sig.Config.Description = "Simulated signal for " + e.Path
	}
	if sig.Config.EndPoint == "" {
		sig.Config.EndPoint = e.Path
	}
	return sig, sig.Validate()
}

// decodeDefault reads the default as the declared type. A missing default is
// the zero value.
func decodeDefault(node *yaml.Node, t proto.ValueType) (proto.Value, error) {
	if node.Kind == 0 {
		return proto.ZeroValue(t)
	}
	switch t {
	case proto.TypeBool:
		var b bool
		err := node.Decode(&b)
		return proto.BoolValue(b), err
	case proto.TypeInt32:
		var i int32
		err := node.Decode(&i)
		return proto.Int32Value(i), err
	case proto.TypeUint32:
		var u uint32
		err := node.Decode(&u)
		return proto.Uint32Value(u), err
	case proto.TypeFloat:
		var f float32
		err := node.Decode(&f)
		return proto.FloatValue(f), err
	case proto.TypeString:
		var s string
		err := node.Decode(&s)
		return proto.StringValue(s), err
	default:
		return proto.Value{}, fmt.Errorf("unsupported data type %s", t)
	}
}

// Register adds every signal to the store. It stops at the first failure.
func Register(st *store.SignalStore, signals []proto.Signal) error {
	for _, sig := range signals {
		if err := st.Register(sig); err != nil {
			return err
		}
	}
	slog.Info("Registered signal catalogue", "signals", len(signals))
	return nil
}
