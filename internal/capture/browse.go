package capture

import (
	"context"
	"fmt"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

const (
	maxBrowseDepth = 10
	maxBrowseNodes = 5000
)

// Node je proměnná nalezená při procházení OPC-UA serveru. Konzole z nich
// vybírá uzly pro proces snímání (obraz, příznak, potvrzení).
type Node struct {
	NodeID      string `json:"nodeId"`
	BrowseName  string `json:"browseName"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	NodeClass   string `json:"nodeClass"`
	DataType    string `json:"dataType,omitempty"`
}

type nodeDesc struct {
	id          string
	class       ua.NodeClass
	name        string
	description string
	dataType    string
}

// browseNode je uzel stromu, který lze procházet.
type browseNode interface {
	describe(ctx context.Context) (nodeDesc, error)
	children(ctx context.Context) ([]browseNode, error)
}

// Browse projde složku Objects zařízení a vrátí jeho proměnné.
func (o *OPCUA) Browse(ctx context.Context, dev model.Device) ([]Node, error) {
	c, err := dial(ctx, dev.Address, dev)
	if err != nil {
		return nil, err
	}
	defer c.Close(context.Background())

	root := c.Node(ua.NewNumericNodeID(0, id.ObjectsFolder))
	nodes, err := walk(ctx, opcuaNode{n: root})
	if err != nil {
		return nil, fmt.Errorf("procházení %s selhalo: %w", dev.Address, err)
	}
	o.logger.Debug("Uzly prohledány", "endpoint", dev.Address, "variables", len(nodes))
	return nodes, nil
}

// walk prochází strom do hloubky a sbírá jen proměnné. Každý uzel navštíví jednou.
func walk(ctx context.Context, root browseNode) ([]Node, error) {
	visited := map[string]bool{}
	var out []Node

	var visit func(n browseNode, path string, level int) error
	visit = func(n browseNode, path string, level int) error {
		if level > maxBrowseDepth || len(out) >= maxBrowseNodes {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := n.describe(ctx)
		if err != nil {
			return err
		}
		if visited[d.id] {
			return nil
		}
		visited[d.id] = true

		p := joinPath(path, d.name)
		if d.class == ua.NodeClassVariable {
			out = append(out, Node{
				NodeID:      d.id,
				BrowseName:  d.name,
				Description: d.description,
				Path:        p,
				NodeClass:   d.class.String(),
				DataType:    d.dataType,
			})
		}

		kids, err := n.children(ctx)
		if err != nil {
			return err
		}
		for _, k := range kids {
			if err := visit(k, p, level+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(root, "", 0); err != nil {
		return nil, err
	}
	return out, nil
}

func joinPath(a, b string) string {
	if a == "" {
		return b
	}
	return a + "." + b
}

type opcuaNode struct {
	n *opcua.Node
}

func (o opcuaNode) describe(ctx context.Context) (nodeDesc, error) {
	attrs, err := o.n.Attributes(ctx,
		ua.AttributeIDNodeClass,
		ua.AttributeIDBrowseName,
		ua.AttributeIDDescription,
		ua.AttributeIDDataType,
	)
	if err != nil {
		return nodeDesc{}, fmt.Errorf("atributy uzlu %s: %w", o.n.ID, err)
	}
	d := nodeDesc{id: o.n.ID.String()}
	if len(attrs) < 4 {
		return d, nil
	}
	if attrs[0].Status == ua.StatusOK {
		d.class = ua.NodeClass(attrs[0].Value.Int())
	}
	if attrs[1].Status == ua.StatusOK {
		d.name = attrs[1].Value.String()
	}
	if attrs[2].Status == ua.StatusOK {
		d.description = attrs[2].Value.String()
	}
	if attrs[3].Status == ua.StatusOK {
		if dt := attrs[3].Value.NodeID(); dt != nil {
			d.dataType = dataTypeName(dt)
		}
	}
	return d, nil
}

func (o opcuaNode) children(ctx context.Context) ([]browseNode, error) {
	var out []browseNode
	for _, ref := range []uint32{id.HasComponent, id.Organizes, id.HasProperty} {
		refs, err := o.n.ReferencedNodes(ctx, ref, ua.BrowseDirectionForward, ua.NodeClassAll, true)
		if err != nil {
			return nil, fmt.Errorf("reference %d uzlu %s: %w", ref, o.n.ID, err)
		}
		for _, rn := range refs {
			out = append(out, opcuaNode{n: rn})
		}
	}
	return out, nil
}

var dataTypeNames = map[uint32]string{
	id.Boolean:    "Boolean",
	id.SByte:      "SByte",
	id.Byte:       "Byte",
	id.Int16:      "Int16",
	id.UInt16:     "UInt16",
	id.Int32:      "Int32",
	id.UInt32:     "UInt32",
	id.Int64:      "Int64",
	id.UInt64:     "UInt64",
	id.Float:      "Float",
	id.Double:     "Double",
	id.String:     "String",
	id.DateTime:   "DateTime",
	id.UtcTime:    "UtcTime",
	id.ByteString: "ByteString",
	id.Image:      "Image",
}

func dataTypeName(dt *ua.NodeID) string {
	if dt.Namespace() == 0 {
		if name, ok := dataTypeNames[dt.IntID()]; ok {
			return name
		}
	}
	return dt.String()
}
