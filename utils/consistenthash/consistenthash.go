package consistenthash

import (
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/twmb/murmur3"
)

// Hash 定义哈希函数接口
type Hash func(data []byte) uint32

// Ring 表示一致性哈希环，用于在多个节点之间划分群组的 sweep 负责权
type Ring struct {
	mu       sync.RWMutex
	hash     Hash
	replicas int               // 虚拟节点数量
	keys     []uint32          // 排序的哈希环位置
	hashMap  map[uint32]string // 哈希值到节点的映射
	nodes    map[string]struct{}
}

// New 创建一致性哈希环，fn 为 nil 时使用 murmur3
func New(replicas int, fn Hash) *Ring {
	r := &Ring{
		replicas: replicas,
		hash:     fn,
		hashMap:  make(map[uint32]string),
		nodes:    make(map[string]struct{}),
	}
	if r.hash == nil {
		r.hash = murmur3.Sum32
	}
	if r.replicas <= 0 {
		r.replicas = 50
	}
	return r
}

func virtualKey(node string, i int) []byte {
	return []byte(node + "#" + strconv.Itoa(i))
}

// Add 添加节点，重复或空节点会被忽略
func (r *Ring) Add(nodes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range nodes {
		if node == "" {
			continue
		}
		if _, ok := r.nodes[node]; ok {
			continue
		}
		r.nodes[node] = struct{}{}

		for i := 0; i < r.replicas; i++ {
			h := r.hash(virtualKey(node, i))
			// 虚拟节点哈希碰撞时保留先加入的节点
			if _, taken := r.hashMap[h]; taken {
				continue
			}
			r.hashMap[h] = node
			r.keys = append(r.keys, h)
		}
	}
	slices.Sort(r.keys)
}

// Remove 从哈希环中移除节点
func (r *Ring) Remove(nodes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range nodes {
		if _, ok := r.nodes[node]; !ok {
			continue
		}
		delete(r.nodes, node)
		for i := 0; i < r.replicas; i++ {
			h := r.hash(virtualKey(node, i))
			if r.hashMap[h] == node {
				delete(r.hashMap, h)
			}
		}
	}

	r.keys = r.keys[:0]
	for k := range r.hashMap {
		r.keys = append(r.keys, k)
	}
	slices.Sort(r.keys)
}

// Get 返回顺时针方向上第一个虚拟节点对应的真实节点，空环返回 ""
func (r *Ring) Get(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.keys) == 0 {
		return ""
	}

	h := r.hash([]byte(key))
	idx := sort.Search(len(r.keys), func(i int) bool {
		return r.keys[i] >= h
	})
	if idx == len(r.keys) {
		idx = 0
	}
	return r.hashMap[r.keys[idx]]
}

// Owns 判断 key 是否归 node 负责；空环视为每个节点都负责全部 key
func (r *Ring) Owns(node, key string) bool {
	owner := r.Get(key)
	return owner == "" || owner == node
}

// Nodes 返回所有真实节点（已排序）
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]string, 0, len(r.nodes))
	for node := range r.nodes {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	return nodes
}

// Size 返回真实节点数量
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.nodes)
}
