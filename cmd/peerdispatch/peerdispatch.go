// Program peerdispatch is a command-line utility for packing and inspecting
// BitTorrent peer wire messages, for manual testing of the dispatch package
// against hand-built input without a live connection.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/creachadair/command"

	"github.com/mtorrent/peerwire/message"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for packing and inspecting peer wire messages.",
		Commands: []*command.C{
			{
				Name:  "pack",
				Usage: "<kind> [argument...]",
				Help: `Encode a single peer wire message to stdout.

The kind names one of the message.Kind values: keep-alive, choke, unchoke,
interested, not-interested, have, bitfield, request, piece, cancel,
extension.

Have takes one further argument, index. Request and cancel take index,
begin, length. Piece takes index, begin, payload. Bitfield takes payload.
Extension takes an extension ID followed by payload. Keep-alive, choke, unchoke, interested, and not-interested take no
further arguments.
`,
				Run: runPack,
			},
			{
				Name:  "inspect",
				Usage: "",
				Help:  "Decode one peer wire message from stdin and print its fields.",
				Run:   runInspect,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runPack(env *command.Env) error {
	args := env.Args
	if len(args) == 0 {
		return env.Usagef("missing message kind")
	}
	kind, args := args[0], args[1:]

	m, err := buildMessage(kind, args)
	if err != nil {
		return err
	}
	if err := m.Encode(os.Stdout); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

func buildMessage(kind string, args []string) (*message.Message, error) {
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s), got %d", kind, n, len(args))
		}
		return nil
	}
	u32 := func(s string) (uint32, error) {
		v, err := strconv.ParseUint(s, 10, 32)
		return uint32(v), err
	}

	switch kind {
	case "keep-alive":
		if err := need(0); err != nil {
			return nil, err
		}
		return &message.Message{Kind: message.KeepAlive}, nil
	case "choke":
		if err := need(0); err != nil {
			return nil, err
		}
		return &message.Message{Kind: message.Choke}, nil
	case "unchoke":
		if err := need(0); err != nil {
			return nil, err
		}
		return &message.Message{Kind: message.Unchoke}, nil
	case "interested":
		if err := need(0); err != nil {
			return nil, err
		}
		return &message.Message{Kind: message.Interested}, nil
	case "not-interested":
		if err := need(0); err != nil {
			return nil, err
		}
		return &message.Message{Kind: message.NotInterested}, nil
	case "have":
		if err := need(1); err != nil {
			return nil, err
		}
		index, err := u32(args[0])
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		return &message.Message{Kind: message.Have, Index: index}, nil
	case "bitfield":
		if err := need(1); err != nil {
			return nil, err
		}
		return &message.Message{Kind: message.Bitfield, Payload: []byte(args[0])}, nil
	case "request", "cancel":
		if err := need(3); err != nil {
			return nil, err
		}
		index, err := u32(args[0])
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		begin, err := u32(args[1])
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		length, err := u32(args[2])
		if err != nil {
			return nil, fmt.Errorf("length: %w", err)
		}
		k := message.Request
		if kind == "cancel" {
			k = message.Cancel
		}
		return &message.Message{Kind: k, Index: index, Begin: begin, Length: length}, nil
	case "piece":
		if err := need(3); err != nil {
			return nil, err
		}
		index, err := u32(args[0])
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		begin, err := u32(args[1])
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		return &message.Message{Kind: message.Piece, Index: index, Begin: begin, Payload: []byte(args[2])}, nil
	case "extension":
		if err := need(2); err != nil {
			return nil, err
		}
		id, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("extension-id: %w", err)
		}
		return &message.Message{Kind: message.Extension, ExtensionID: byte(id), Payload: []byte(args[1])}, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
}

func runInspect(env *command.Env) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	m, err := message.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	fmt.Fprintf(os.Stdout, "kind:       %v\n", m.Kind)
	switch m.Kind {
	case message.Have:
		fmt.Fprintf(os.Stdout, "index:      %d\n", m.Index)
	case message.Request, message.Cancel:
		fmt.Fprintf(os.Stdout, "index:      %d\nbegin:      %d\nlength:     %d\n", m.Index, m.Begin, m.Length)
	case message.Piece:
		fmt.Fprintf(os.Stdout, "index:      %d\nbegin:      %d\npayload:    %d bytes\n", m.Index, m.Begin, len(m.Payload))
	case message.Bitfield:
		fmt.Fprintf(os.Stdout, "payload:    %d bytes\n", len(m.Payload))
	case message.Extension:
		fmt.Fprintf(os.Stdout, "extension:  %d\npayload:    %d bytes\n", m.ExtensionID, len(m.Payload))
	}
	return nil
}
