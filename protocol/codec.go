package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

var decMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Marshal serializes a Message to the bytes that become a frame's payload.
func Marshal(m Message) ([]byte, error) {
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal message: %w", err)
	}
	return b, nil
}

// Unmarshal deserializes a frame payload into a Message.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	if err := decMode.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: unmarshal message: %w", err)
	}
	return m, nil
}
