package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/goph-drafts/internal/server/grpc"
)

var errUnknownCommand = errors.New("unknown command")

// buildCommand parses the flags of an RPC subcommand into a method and request.
func buildCommand(cmd string, args []string) (string, *structpb.Struct, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	key := fs.String("key", "", "draft key")
	parentID := fs.String("parent", "", "parent item id")
	scope := fs.String("scope", "", "parent scope")
	file := fs.String("file", "", "body file or - for stdin")
	children := fs.Int("children", -1, "child count")
	debounce := fs.Bool("debounce", false, "coalesce with other saves")

	switch cmd {
	case "ensure", "reply", "get", "target", "save", "publish", "abandon", "status", "active", "dump", "clear":
	default:
		return "", nil, fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}

	switch cmd {
	case "ensure":
		req, err := keyRequest(*key, *parentID, *scope)
		if err != nil {
			return "", nil, err
		}
		if *key == "" && *parentID == "" {
			return "", nil, errors.New("need -key or -parent")
		}
		return grpcserver.MethodEnsure, req, nil

	case "reply":
		if *parentID == "" {
			return "", nil, errors.New("need -parent and -scope")
		}
		req, err := keyRequest(*key, *parentID, *scope)
		return grpcserver.MethodEnsureForParent, req, err

	case "get":
		switch {
		case *key != "":
			return grpcserver.MethodGet, keyOnly(*key), nil
		case *parentID != "":
			if _, err := u.FromString(*parentID); err != nil {
				return "", nil, fmt.Errorf("bad -parent: %w", err)
			}
			return grpcserver.MethodGetForParent, &structpb.Struct{Fields: map[string]*structpb.Value{
				"parent_id": structpb.NewStringValue(*parentID),
			}}, nil
		}
		return "", nil, errors.New("need -key or -parent")

	case "target":
		if *key == "" {
			return "", nil, errors.New("need -key")
		}
		req, err := keyRequest(*key, *parentID, *scope)
		return grpcserver.MethodSetReplyTarget, req, err

	case "save":
		if *key == "" {
			return "", nil, errors.New("need -key")
		}
		req := keyOnly(*key)
		if *file != "" {
			body, err := readAll(*file)
			if err != nil {
				return "", nil, err
			}
			req.Fields["body"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(body))
		}
		if *children >= 0 {
			req.Fields["child_count"] = structpb.NewNumberValue(float64(*children))
		}
		if *debounce {
			return grpcserver.MethodSaveDebounced, req, nil
		}
		return grpcserver.MethodSave, req, nil

	case "publish", "abandon", "status":
		if *key == "" {
			return "", nil, errors.New("need -key")
		}
		m := map[string]string{
			"publish": grpcserver.MethodPublish,
			"abandon": grpcserver.MethodAbandon,
			"status":  grpcserver.MethodStatus,
		}[cmd]
		return m, keyOnly(*key), nil

	case "active":
		return grpcserver.MethodListActive, nil, nil

	case "dump":
		return grpcserver.MethodDump, nil, nil
	}

	// clear
	return grpcserver.MethodClear, keyOnly(*key), nil
}

func keyOnly(key string) *structpb.Struct {
	s := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if key != "" {
		s.Fields["key"] = structpb.NewStringValue(key)
	}
	return s
}

// keyRequest builds {key, parent:{id, scope}}; parent is omitted when parentID is empty.
func keyRequest(key, parentID, scope string) (*structpb.Struct, error) {
	s := keyOnly(key)
	if parentID == "" {
		return s, nil
	}
	if _, err := u.FromString(parentID); err != nil {
		return nil, fmt.Errorf("bad -parent: %w", err)
	}
	if scope == "" {
		return nil, errors.New("-parent needs -scope")
	}
	s.Fields["parent"] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"id":    structpb.NewStringValue(parentID),
		"scope": structpb.NewStringValue(scope),
	}})
	return s, nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
