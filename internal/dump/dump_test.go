package dump

import (
	"bytes"
	"math"
	"testing"

	psbtypes "github.com/ossyrian/psbtool/internal/types"
)

func TestWrite(t *testing.T) {
	root := &psbtypes.Map{Pairs: []psbtypes.Pair{
		{Name: "zeta", Value: &psbtypes.StringRef{Value: "first"}},
		{Name: "alpha", Value: &psbtypes.Int{Value: 42, Width: 1}},
		{Name: "list", Value: &psbtypes.Array{Items: []psbtypes.Value{
			&psbtypes.Null{Tag: 1},
			psbtypes.NewFloat32(1.5),
			&psbtypes.FloatZero{},
		}}},
		{Name: "ids", Value: &psbtypes.IntArray{Values: []uint64{1, 2}}},
		{Name: "blob", Value: &psbtypes.ChunkRef{Data: []byte("hi")}},
		{Name: "nan", Value: psbtypes.NewFloat64(math.NaN())},
		{Name: "file_info", Value: &psbtypes.Map{Pairs: []psbtypes.Pair{
			{Name: "rom.bin", Value: psbtypes.Range{Offset: 2048, Length: 25}.Value()},
		}}},
	}}

	var buf bytes.Buffer
	if err := Write(&buf, root); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	want := `zeta: first
alpha: 42
list:
  - ~
  - 1.5
  - 0.0
ids: [1, 2]
blob: !!binary aGk=
nan: .nan
file_info:
  rom.bin:
    - 2048
    - 25
`
	if buf.String() != want {
		t.Errorf("Write() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestNode_Scalar(t *testing.T) {
	n, err := Node(&psbtypes.StringRef{Value: "only"})
	if err != nil {
		t.Fatal(err)
	}
	if n.Value != "only" || len(n.Content) != 0 {
		t.Errorf("Node() = %+v", n)
	}
}
