package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lvdashuaibi/chainvote/config"
	"github.com/lvdashuaibi/chainvote/internal/access"
	"github.com/lvdashuaibi/chainvote/internal/api/graph"
	"github.com/lvdashuaibi/chainvote/internal/api/rest"
	intkafka "github.com/lvdashuaibi/chainvote/internal/kafka"
	"github.com/lvdashuaibi/chainvote/internal/ledger"
	"github.com/lvdashuaibi/chainvote/internal/lock"
	"github.com/lvdashuaibi/chainvote/internal/repository"
	"github.com/lvdashuaibi/chainvote/internal/scheduler"
	"github.com/lvdashuaibi/chainvote/internal/service"
	"github.com/lvdashuaibi/chainvote/internal/token"
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功，当前实例ID: %d", *instanceID)

	// 创建数据库连接
	mysqlRepo, err := repository.NewMySQLRepository()
	if err != nil {
		log.Fatalf("初始化MySQL仓库失败: %v", err)
	}
	defer mysqlRepo.Close()
	log.Printf("MySQL仓库初始化成功")

	// 创建Redis连接
	redisRepo, err := repository.NewRedisRepository()
	if err != nil {
		log.Fatalf("初始化Redis仓库失败: %v", err)
	}
	defer redisRepo.Close()
	log.Printf("Redis仓库初始化成功")

	// 创建账本客户端
	ethLedger, err := ledger.NewEthereumLedger()
	if err != nil {
		log.Fatalf("初始化账本客户端失败: %v", err)
	}
	defer ethLedger.Close()
	log.Printf("账本客户端初始化成功，合约地址: %s", cfg.Ethereum.ContractAddress)

	// 创建分布式锁
	distributedLock, err := lock.NewETCDLock()
	if err != nil {
		log.Fatalf("初始化ETCD分布式锁失败: %v", err)
	}
	defer distributedLock.Close()
	log.Printf("ETCD分布式锁初始化成功")

	// 创建Kafka生产者
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 创建Kafka消费者
	consumer, err := intkafka.NewConsumer()
	if err != nil {
		log.Fatalf("初始化Kafka消费者失败: %v", err)
	}
	defer consumer.Stop()
	log.Printf("Kafka消费者初始化成功")

	// 创建账本同步器
	synchronizer := ledger.NewSynchronizer(ethLedger, mysqlRepo)

	// 创建令牌生成器与访问策略
	generator := token.NewGenerator(cfg.Token.SecretBytes)
	policy := access.NewPolicy(mysqlRepo)

	// 创建投票服务
	pollService := service.NewPollService(
		mysqlRepo,
		redisRepo,
		generator,
		policy,
		synchronizer,
		producer,
		cfg.Token.BatchSize,
	)
	log.Printf("投票服务初始化成功")

	// 启动Kafka消费者
	consumer.StartConsuming(pollService.ProcessPollEvent)
	log.Printf("Kafka消费者已启动")

	// 启动投票生命周期调度器(锁内执行，多实例下每周期只有一个实例驱动关闭)
	lifecycleScheduler := scheduler.NewScheduler(mysqlRepo, synchronizer, distributedLock, producer)
	lifecycleScheduler.Start()
	defer lifecycleScheduler.Stop()

	// 创建GraphQL只读查询服务
	graphqlServer := graph.NewGraphQLServer(pollService)
	log.Printf("GraphQL服务初始化成功")

	// 创建REST服务
	restServer := rest.NewServer(pollService, cfg.GraphQL.Path, graphqlServer.Handler(), graphqlServer.Playground())

	// 计算端口，支持多实例
	serverPort := cfg.Server.Port + *instanceID - 1

	// 启动HTTP服务器(异步)
	go func() {
		if err := restServer.Start(serverPort); err != nil {
			log.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	log.Printf("Chain Vote 系统 (实例 %d) 已启动，服务地址: http://localhost:%d", *instanceID, serverPort)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")
}
