package h2

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// hpackCodec owns the single encoder and single decoder for a connection's
// lifetime — HPACK's dynamic table is connection-scoped, so both sides
// must see every header block in stream order. Built on
// golang.org/x/net/http2/hpack rather than a hand-rolled static
// table/Huffman codec (see DESIGN.md for why).
type hpackCodec struct {
	encBuf bytes.Buffer
	enc    *hpack.Encoder
	dec    *hpack.Decoder
}

func newHpackCodec(maxDynamicTableSize uint32) *hpackCodec {
	c := &hpackCodec{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(maxDynamicTableSize, nil)
	return c
}

// encode renders ordered name/value pairs into a single HPACK header
// block (the caller splits it across HEADERS/CONTINUATION frames).
func (c *hpackCodec) encode(fields []hpack.HeaderField) ([]byte, error) {
	c.encBuf.Reset()
	for _, f := range fields {
		if err := c.enc.WriteField(f); err != nil {
			return nil, err
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

// decode parses a complete header block (already reassembled from
// HEADERS + any CONTINUATION fragments) into ordered fields.
func (c *hpackCodec) decode(block []byte) ([]hpack.HeaderField, error) {
	var fields []hpack.HeaderField
	c.dec.SetEmitFunc(func(f hpack.HeaderField) { fields = append(fields, f) })
	if _, err := c.dec.Write(block); err != nil {
		return nil, err
	}
	return fields, nil
}
