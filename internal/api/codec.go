package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes response bodies for one content type.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string           { return "application/json" }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

type cborCodec struct{ enc cbor.EncMode }

func newCBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em}, nil
}

func (cborCodec) ContentType() string { return "application/cbor" }

// Marshal goes through JSON first so embedded json.RawMessage values come
// out as CBOR structures instead of byte strings.
func (c cborCodec) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return c.enc.Marshal(generic)
}

type codecs struct {
	byType   map[string]Codec
	fallback Codec
}

func newCodecs() (*codecs, error) {
	c := &codecs{byType: make(map[string]Codec), fallback: jsonCodec{}}
	c.register(jsonCodec{})
	cb, err := newCBOR()
	if err != nil {
		return nil, err
	}
	c.register(cb)
	return c, nil
}

func (c *codecs) register(codec Codec) { c.byType[codec.ContentType()] = codec }

// negotiate picks the first codec named in the Accept header, or JSON.
func (c *codecs) negotiate(r *http.Request) Codec {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if codec, ok := c.byType[mt]; ok {
			return codec
		}
	}
	return c.fallback
}
