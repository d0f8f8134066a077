package signal

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source 产出待处理的频道消息。传输层（Telegram 等）是外部协作方，
// 只要能把消息投进来即可。
type Source interface {
	Next(ctx context.Context) (Message, error)
}

// ChannelSource 是进程内的消息队列实现，供注入接口与测试使用。
type ChannelSource struct {
	ch chan Message
}

// NewChannelSource 创建带缓冲的消息源。
func NewChannelSource(buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelSource{
		ch: make(chan Message, buffer),
	}
}

// Submit 投递一条消息。ID 为空时生成 ULID 作为幂等键。
func (s *ChannelSource) Submit(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = NewMessageID()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.ch <- msg:
		return nil
	default:
		return fmt.Errorf("signal: 消息队列已满，丢弃 %s", msg.ID)
	}
}

// Next 阻塞等待下一条消息。
func (s *ChannelSource) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// NewMessageID 生成单调可排序的消息ID。
func NewMessageID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}
