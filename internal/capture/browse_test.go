package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	desc nodeDesc
	kids []browseNode
	err  error
}

func (f *fakeNode) describe(ctx context.Context) (nodeDesc, error) { return f.desc, f.err }
func (f *fakeNode) children(ctx context.Context) ([]browseNode, error) {
	return f.kids, nil
}

func object(id, name string, kids ...browseNode) *fakeNode {
	return &fakeNode{desc: nodeDesc{id: id, class: ua.NodeClassObject, name: name}, kids: kids}
}

func variable(id, name, dataType string) *fakeNode {
	return &fakeNode{desc: nodeDesc{id: id, class: ua.NodeClassVariable, name: name, dataType: dataType}}
}

func TestWalkCollectsVariablesWithPaths(t *testing.T) {
	image := variable("ns=2;s=Cam.Image", "Image", "ByteString")
	ready := variable("ns=2;s=Cam.Ready", "Ready", "Boolean")
	method := &fakeNode{desc: nodeDesc{id: "ns=2;s=Cam.Grab", class: ua.NodeClassMethod, name: "Grab"}}
	cam := object("ns=2;s=Cam", "Camera", image, ready, method)
	root := object("i=85", "Objects", cam)

	nodes, err := walk(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, Node{
		NodeID:     "ns=2;s=Cam.Image",
		BrowseName: "Image",
		Path:       "Objects.Camera.Image",
		NodeClass:  ua.NodeClassVariable.String(),
		DataType:   "ByteString",
	}, nodes[0])
	assert.Equal(t, "Objects.Camera.Ready", nodes[1].Path)
}

func TestWalkVisitsSharedNodeOnce(t *testing.T) {
	shared := variable("ns=2;i=7", "Counter", "Int32")
	a := object("ns=2;i=1", "A", shared)
	b := object("ns=2;i=2", "B", shared)
	root := object("i=85", "Objects", a, b)
	// Cyklus zpět na kořen.
	b.kids = append(b.kids, root)

	nodes, err := walk(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Objects.A.Counter", nodes[0].Path)
}

func TestWalkStopsAtMaxDepth(t *testing.T) {
	var node browseNode = variable("deep", "Deep", "Double")
	for i := maxBrowseDepth + 1; i > 0; i-- {
		node = object(string(rune('a'+i)), "L", node)
	}
	nodes, err := walk(context.Background(), object("root", "Objects", node))
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestWalkReturnsErrors(t *testing.T) {
	broken := &fakeNode{err: errors.New("BadSessionClosed")}
	_, err := walk(context.Background(), object("i=85", "Objects", broken))
	assert.ErrorContains(t, err, "BadSessionClosed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = walk(ctx, object("i=85", "Objects"))
	assert.ErrorIs(t, err, context.Canceled)
}
