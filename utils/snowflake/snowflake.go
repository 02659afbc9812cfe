package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch 自定义纪元 2026-01-01 00:00:00 UTC（毫秒）
	Epoch int64 = 1767225600000

	NodeBits     = 10
	SequenceBits = 12

	MaxNode      = -1 ^ (-1 << NodeBits)
	sequenceMask = -1 ^ (-1 << SequenceBits)

	nodeShift = SequenceBits
	timeShift = SequenceBits + NodeBits
)

var (
	ErrInvalidNode         = errors.New("snowflake: node id out of range")
	ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")
)

// Generator 消息 ID 生成器：41 位毫秒时间戳 | 10 位节点 | 12 位序列号。
// 同一群组的消息 ID 按写入顺序递增，可直接用作排序键。
type Generator struct {
	mu       sync.Mutex
	node     int64
	sequence int64
	lastMs   int64
	now      func() time.Time
}

// NewGenerator 创建生成器，node 取值 [0, MaxNode]
func NewGenerator(node int64) (*Generator, error) {
	return newGenerator(node, time.Now)
}

func newGenerator(node int64, now func() time.Time) (*Generator, error) {
	if node < 0 || node > MaxNode {
		return nil, ErrInvalidNode
	}
	return &Generator{node: node, now: now}, nil
}

// NextID 生成下一个 ID；同一毫秒内序列号用尽时等待下一毫秒
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMs {
		return 0, ErrClockMovedBackwards
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			for ms <= g.lastMs {
				time.Sleep(100 * time.Microsecond)
				ms = g.now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return (ms-Epoch)<<timeShift | g.node<<nodeShift | g.sequence, nil
}

// Decompose 拆解 ID 得到生成时间、节点和序列号
func Decompose(id int64) (at time.Time, node int64, sequence int64) {
	ms := id>>timeShift + Epoch
	return time.UnixMilli(ms).UTC(), (id >> nodeShift) & MaxNode, id & sequenceMask
}
