package matrix

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/cryptographic/hash"
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/utils/log"
	"context"
	"encoding/hex"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// distance is |H(hex(publicKey)) - H(node + nonce)| as 256-bit integers.
func distance(keyHash *uint256.Int, node, nonce string) *uint256.Int {
	h := hash.Blake2b256([]byte(node + nonce))
	n := new(uint256.Int).SetBytes32(h[:])
	if keyHash.Gt(n) {
		return n.Sub(keyHash, n)
	}
	return n.Sub(n, keyHash)
}

// SelectNode deterministically picks the node closest to publicKey. Ties
// go to the node listed first.
func SelectNode(publicKey []byte, nodes []string, nonce string) (string, bool) {
	if len(nodes) == 0 {
		return "", false
	}
	kh := hash.Blake2b256([]byte(hex.EncodeToString(publicKey)))
	key := new(uint256.Int).SetBytes32(kh[:])

	best, bestDist := nodes[0], distance(key, nodes[0], nonce)
	for _, n := range nodes[1:] {
		if d := distance(key, n, nonce); d.Lt(bestDist) {
			best, bestDist = n, d
		}
	}
	return best, true
}

// NodeSelector resolves the relay node of this installation, skipping
// nodes that do not answer.
type NodeSelector struct {
	publicKey []byte
	nodes     []string
	nonce     string
	scheme    string
	timeout   time.Duration
	http      *http.Client

	group singleflight.Group
	mu    sync.Mutex
	down  map[string]struct{}
}

func NewNodeSelector(publicKey []byte, cfg config.RelayConfig, httpClient *http.Client) *NodeSelector {
	return &NodeSelector{
		publicKey: publicKey,
		nodes:     slices.Clone(cfg.Nodes),
		nonce:     cfg.Nonce,
		scheme:    cfg.Scheme,
		timeout:   cfg.RequestTimeout,
		http:      httpClient,
		down:      make(map[string]struct{}),
	}
}

// Resolve returns the closest reachable node. Concurrent callers share one
// resolution.
func (s *NodeSelector) Resolve(ctx context.Context) (string, error) {
	v, err, _ := s.group.Do("resolve", func() (any, error) {
		for {
			candidates := s.candidates()
			node, ok := SelectNode(s.publicKey, candidates, s.nonce)
			if !ok {
				return "", model.ErrUnreachableNodes
			}
			client := NewClient(NodeURL(s.scheme, node), s.http)
			client.Timeout = s.timeout
			err := client.Versions(ctx)
			if err == nil {
				return node, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn("relay node unreachable", zap.String("node", node), zap.Error(err))
			s.markDown(node)
		}
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Forget clears the unreachable set so the next Resolve starts over.
func (s *NodeSelector) Forget() {
	s.mu.Lock()
	s.down = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *NodeSelector) candidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		if _, ok := s.down[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func (s *NodeSelector) markDown(node string) {
	s.mu.Lock()
	s.down[node] = struct{}{}
	s.mu.Unlock()
}
