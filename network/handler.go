package network

import (
	"fmt"

	"github.com/megamcloud/starcoin/logx"
	"github.com/megamcloud/starcoin/store"
)

// StorageHandler answers peer requests straight from the local chain store.
type StorageHandler struct {
	storage *store.Storage
}

func NewStorageHandler(storage *store.Storage) *StorageHandler {
	return &StorageHandler{storage: storage}
}

func (h *StorageHandler) HandleRequest(req Request) (Response, error) {
	switch r := req.(type) {
	case GetBodiesRequest:
		return h.handleGetBodies(r)
	case GetStateNodeRequest:
		node, err := h.storage.GetStateNode(r.NodeHash)
		if err != nil {
			return nil, err
		}
		return StateNodeResponse{Node: node}, nil
	case GetAccumulatorNodeRequest:
		node, err := h.storage.GetAccumulatorNode(r.NodeHash)
		if err != nil {
			return nil, err
		}
		return AccumulatorNodeResponse{Node: node}, nil
	default:
		return nil, fmt.Errorf("unsupported request %T", req)
	}
}

func (h *StorageHandler) handleGetBodies(req GetBodiesRequest) (Response, error) {
	resp := BodiesResponse{}
	for _, hash := range req.Hashes {
		body, err := h.storage.GetBody(hash)
		if err != nil {
			return nil, err
		}
		if body == nil {
			logx.Warn("NETWORK", "requested body not found: "+hash.ShortString())
			continue
		}
		resp.Hashes = append(resp.Hashes, hash)
		resp.Bodies = append(resp.Bodies, *body)
	}
	return resp, nil
}
