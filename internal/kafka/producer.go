package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/lvdashuaibi/chainvote/config"
	"github.com/lvdashuaibi/chainvote/internal/model"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer         *kafka.Writer
	ctx            context.Context
	partitionCount int // 主题的分区数量
}

func NewProducer() (*Producer, error) {
	ctx := context.Background()

	// 获取分区数量
	conn, err := kafka.DialLeader(ctx, "tcp", config.AppConfig.Kafka.Brokers[0], config.AppConfig.Kafka.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}

	topicPartitions := 0
	for _, p := range partitions {
		if p.Topic == config.AppConfig.Kafka.Topic {
			topicPartitions++
		}
	}

	log.Printf("生产者检测到Kafka主题 %s 有 %d 个分区", config.AppConfig.Kafka.Topic, topicPartitions)

	// 以投票ID作为消息Key做Hash分区，同一投票的事件保持有序
	writer := &kafka.Writer{
		Addr:     kafka.TCP(config.AppConfig.Kafka.Brokers...),
		Topic:    config.AppConfig.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}

	return &Producer{
		writer:         writer,
		ctx:            ctx,
		partitionCount: topicPartitions,
	}, nil
}

// SendPollEvent 发送投票生命周期事件到Kafka
// 事件只携带投票ID和身份ID，绝不携带原始令牌值
func (p *Producer) SendPollEvent(event *model.PollEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化投票事件失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.PollID, 10)),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
		return fmt.Errorf("发送投票事件失败: %w", err)
	}

	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
