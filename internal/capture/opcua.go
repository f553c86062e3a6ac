package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// OPCUA sejme snímek sekvencí volání metody, čekání na příznak, čtení a potvrzení.
type OPCUA struct {
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewOPCUA vytvoří OPC-UA capturer.
func NewOPCUA(logger *slog.Logger) *OPCUA {
	return &OPCUA{logger: logger, pollInterval: time.Second}
}

// ClientOptions sestaví volby klienta podle zabezpečení a přihlášení zařízení.
func ClientOptions(dev model.Device) []opcua.Option {
	policy := dev.SecurityPolicy
	if policy == "" {
		policy = "None"
	}
	mode := dev.SecurityMode
	if mode == "" {
		mode = "None"
	}
	opts := []opcua.Option{
		opcua.SecurityPolicy(policy),
		opcua.SecurityModeString(mode),
		opcua.AutoReconnect(false),
	}
	if dev.Username != "" {
		opts = append(opts, opcua.AuthUsername(dev.Username, dev.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

// dial vytvoří klienta podle nastavení zařízení a připojí se k endpointu.
func dial(ctx context.Context, endpoint string, dev model.Device) (*opcua.Client, error) {
	c, err := opcua.NewClient(endpoint, ClientOptions(dev)...)
	if err != nil {
		return nil, fmt.Errorf("neplatná konfigurace OPC-UA klienta: %w", err)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("nelze se připojit k %s: %w", endpoint, err)
	}
	return c, nil
}

func (o *OPCUA) Capture(ctx context.Context, dev model.Device, p model.ImageProcess) ([]byte, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = dev.Address
	}

	c, err := dial(ctx, endpoint, dev)
	if err != nil {
		return nil, err
	}
	defer c.Close(context.Background())

	if p.MethodID != "" {
		if err := o.callMethod(ctx, c, p); err != nil {
			return nil, err
		}
	}
	if p.CheckNodeID != "" {
		if err := o.awaitFlag(ctx, c, p.CheckNodeID); err != nil {
			return nil, err
		}
	}

	data, err := readImage(ctx, c, p.ImageNodeID)
	if err != nil {
		return nil, err
	}

	if p.AckNodeID != "" {
		if err := writeAck(ctx, c, p.AckNodeID); err != nil {
			return nil, err
		}
	}
	o.logger.Debug("Snímek přečten", "endpoint", endpoint, "bytes", len(data))
	return data, nil
}

// MethodInputs převede method_args na vstupní argumenty metody. Argumenty jdou
// v přirozeném pořadí klíčů (arg2 před arg10) a vždy jako String, stejně jako
// je posílá ovladač kamery. Vnořené objekty a pole nejsou povolené.
func MethodInputs(args map[string]any) ([]*ua.Variant, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return naturalLess(keys[i], keys[j]) })

	inputs := make([]*ua.Variant, 0, len(keys))
	for _, k := range keys {
		text, err := argText(args[k])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %q: %v", model.ErrInvalid, k, err)
		}
		v, err := ua.NewVariant(text)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %q: %v", model.ErrInvalid, k, err)
		}
		inputs = append(inputs, v)
	}
	return inputs, nil
}

func argText(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("nepodporovaný typ %T", v)
	}
}

// naturalLess porovnává řetězce tak, že běhy číslic bere jako čísla.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, db := isDigit(a[0]), isDigit(b[0])
		if da && db {
			na, ra := leadingDigits(a)
			nb, rb := leadingDigits(b)
			// Délka bez úvodních nul rozhodne dřív než lexikální porovnání.
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			if na != nb {
				return len(na) < len(nb)
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func (o *OPCUA) callMethod(ctx context.Context, c *opcua.Client, p model.ImageProcess) error {
	objectID, err := ua.ParseNodeID(p.ObjectID)
	if err != nil {
		return fmt.Errorf("neplatné object_id %q: %w", p.ObjectID, err)
	}
	methodID, err := ua.ParseNodeID(p.MethodID)
	if err != nil {
		return fmt.Errorf("neplatné method_id %q: %w", p.MethodID, err)
	}
	inputs, err := MethodInputs(p.MethodArgs)
	if err != nil {
		return err
	}

	resp, err := c.Call(ctx, &ua.CallMethodRequest{
		ObjectID:       objectID,
		MethodID:       methodID,
		InputArguments: inputs,
	})
	if err != nil {
		return fmt.Errorf("volání metody selhalo: %w", err)
	}
	if resp.StatusCode != ua.StatusOK {
		return fmt.Errorf("metoda vrátila stav %v", resp.StatusCode)
	}
	return nil
}

// awaitFlag čeká, dokud check node nevrátí true nebo nevyprší kontext.
func (o *OPCUA) awaitFlag(ctx context.Context, c *opcua.Client, node string) error {
	id, err := ua.ParseNodeID(node)
	if err != nil {
		return fmt.Errorf("neplatné check_node_id %q: %w", node, err)
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		v, err := c.Node(id).Value(ctx)
		if err != nil {
			return fmt.Errorf("nelze číst %s: %w", node, err)
		}
		if ready, ok := v.Value().(bool); ok && ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("snímek není připraven: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func readImage(ctx context.Context, c *opcua.Client, node string) ([]byte, error) {
	id, err := ua.ParseNodeID(node)
	if err != nil {
		return nil, fmt.Errorf("neplatné image_node_id %q: %w", node, err)
	}
	v, err := c.Node(id).Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("nelze číst obrázek z %s: %w", node, err)
	}
	return ImageBytes(v.Value())
}

// ImageBytes přijme ByteString nebo base64 řetězec.
func ImageBytes(v any) ([]byte, error) {
	switch data := v.(type) {
	case []byte:
		if len(data) == 0 {
			return nil, fmt.Errorf("obrázek je prázdný")
		}
		return data, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("obrázek není platný base64: %w", err)
		}
		if len(decoded) == 0 {
			return nil, fmt.Errorf("obrázek je prázdný")
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("nepodporovaný typ obrázku %T", v)
	}
}

func writeAck(ctx context.Context, c *opcua.Client, node string) error {
	id, err := ua.ParseNodeID(node)
	if err != nil {
		return fmt.Errorf("neplatné ack_node_id %q: %w", node, err)
	}
	v, err := ua.NewVariant(true)
	if err != nil {
		return err
	}
	resp, err := c.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        v,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("nelze zapsat potvrzení: %w", err)
	}
	if len(resp.Results) == 0 || resp.Results[0] != ua.StatusOK {
		return fmt.Errorf("zápis potvrzení vrátil %v", resp.Results)
	}
	return nil
}
