package main

import (
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"nunggu.com/pkg/maker"
	"nunggu.com/pkg/token"
	"nunggu.com/pkg/vault"
)

// =============================================================================
// 账户布局
// =============================================================================

const (
	adminAccount    = int64(1) // 平台管理员
	vaultAccount    = int64(2) // 金库托管账户
	treasuryAccount = int64(3) // 手续费收款账户

	collateralSymbol = "IDRX"

	// 标的现货价 (抵押代币最小单位)
	spotPrice = float64(40_000_000)
)

// =============================================================================
// 主程序
// =============================================================================

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("🚀 Starting Options Vault Simulation...")

	// 1. 初始化抵押代币与金库引擎
	// -------------------------------------------------------------------------
	tok := token.NewMemoryToken(collateralSymbol)
	tok.Mint(vaultAccount, 10_000_000_000) // 金库自有流动性 (支付权利金用)

	cfg := vault.DefaultVaultConfig()
	cfg.Token = tok
	cfg.OrderBookAddr = "book:main"
	cfg.PriceOracleAddr = "oracle:ETH_IDRX"
	cfg.NativeAssetAddr = "native:ETH"
	cfg.Owner = adminAccount
	cfg.VaultAccount = vaultAccount
	cfg.WALDir = "./wal_data"
	os.RemoveAll("./wal_data") // 清理旧数据

	// 事件管道可选: 配置了环境变量才接，NATS 优先
	if url := os.Getenv("NATS_URL"); url != "" {
		pub, err := vault.NewNatsPublisher(url)
		if err != nil {
			log.Fatalf("Failed to connect NATS: %v", err)
		}
		defer pub.Close()
		cfg.Publisher = pub
		log.Println("✅ NATS publisher connected")
	} else if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		pub, err := vault.NewKafkaPublisher(strings.Split(brokers, ","))
		if err != nil {
			log.Fatalf("Failed to connect Kafka: %v", err)
		}
		defer pub.Close()
		cfg.Publisher = pub
		log.Println("✅ Kafka publisher connected")
	}

	// 读模型可选: 事件管道 + MySQL 都配了才起回写器
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" && cfg.Publisher != nil {
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatalf("Failed to connect MySQL: %v", err)
		}
		if err := db.AutoMigrate(&vault.Position{}); err != nil {
			log.Fatalf("Failed to migrate read model: %v", err)
		}
		repo := vault.NewMySQLPositionRepository(db)

		if os.Getenv("NATS_URL") != "" {
			writer, err := vault.NewNatsDBWriter(repo, os.Getenv("NATS_URL"))
			if err != nil {
				log.Fatalf("Failed to create NATS db writer: %v", err)
			}
			if err := writer.Start(); err != nil {
				log.Fatalf("Failed to start NATS db writer: %v", err)
			}
			defer writer.Stop()
		} else {
			writer, err := vault.NewKafkaDBWriter(repo,
				strings.Split(os.Getenv("KAFKA_BROKERS"), ","), "vault-db-writer")
			if err != nil {
				log.Fatalf("Failed to create Kafka db writer: %v", err)
			}
			writer.Start()
			defer writer.Stop()
		}
		log.Println("✅ Read model writer started")
	}

	engine, err := vault.NewEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to create Vault Engine: %v", err)
	}

	if seq, err := engine.Recover(); err != nil {
		log.Fatalf("Failed to recover from WAL: %v", err)
	} else if seq > 0 {
		log.Printf("♻️  Recovered %d WAL entries", seq)
	}

	engine.Start()
	defer engine.Stop()
	log.Println("✅ Vault Engine Started")

	// 2. 初始化模拟做市商
	// -------------------------------------------------------------------------
	mmCfg := maker.DefaultMakerConfig(collateralSymbol)
	mm, err := maker.NewMarketMaker(mmCfg)
	if err != nil {
		log.Fatalf("Failed to create Market Maker: %v", err)
	}
	log.Printf("✅ Market Maker Ready | addr=%s...", mm.Address()[:16])

	// 3. 模拟用户行为
	// -------------------------------------------------------------------------
	users := make([]int64, 8)
	for i := range users {
		users[i] = int64(100 + i)
		tok.Mint(users[i], 500_000_000)
		tok.Approve(users[i], vaultAccount, 500_000_000)
	}

	stopCh := make(chan struct{})
	go simulateTraffic(engine, mm, users, stopCh)

	// 4. 定期打印账本快照
	// -------------------------------------------------------------------------
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				stats := engine.GetStats()
				log.Printf("[Ledger] 📊 TVL=%d | positions=%d | fees=%d | created=%d closed=%d rejected=%d",
					engine.TotalValueLocked(), engine.TotalPositionsCreated(),
					engine.CollectedFees(), stats.CreatedCount, stats.ClosedCount, stats.RejectCount)
			}
		}
	}()

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(stopCh)

	// 退出前管理员归集手续费
	if err := engine.WithdrawFees(adminAccount, treasuryAccount); err != nil {
		log.Printf("[Admin] withdraw fees failed: %v", err)
	} else {
		log.Printf("[Admin] 💰 Treasury balance: %d", tok.BalanceOf(treasuryAccount))
	}

	log.Println("🛑 Shutting down...")
}

// simulateTraffic 混合流量: 简单开仓、做市订单成交、随机平仓
func simulateTraffic(engine *vault.VaultEngine, mm *maker.MarketMaker, users []int64, stopCh chan struct{}) {
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			user := users[rand.Intn(len(users))]

			switch rand.Intn(4) {
			case 0, 1:
				// 简单开仓: 随机抵押和期限
				collateral := int64(2_000_000 + rand.Intn(40)*1_000_000)
				strike := int64(spotPrice * (0.9 + rand.Float64()*0.2))
				days := time.Duration(1+rand.Intn(30)) * 24 * time.Hour

				id, err := engine.CreatePosition(user, collateral, strike, days, rand.Intn(4) == 0)
				if err != nil {
					log.Printf("[Sim] create rejected: user=%d err=%v", user, err)
					continue
				}
				log.Printf("[Sim] 📝 CREATED: position=%d user=%d collateral=%d", id, user, collateral)

			case 2:
				// 做市订单成交
				now := time.Now().Unix()
				expiry := now + int64(7*24*3600)
				order, sig, err := mm.Quote(maker.QuoteRequest{
					Spot:         spotPrice,
					Strike:       int64(spotPrice),
					Expiry:       expiry,
					NumContracts: int64(1 + rand.Intn(3)),
					IsCall:       rand.Intn(2) == 0,
					Now:          now,
				})
				if err != nil {
					log.Printf("[Sim] quote failed: %v", err)
					continue
				}

				id, err := engine.ExecuteOrder(user, order, sig, 10_000_000, order.QuotedPremium())
				if err != nil {
					log.Printf("[Sim] fill rejected: user=%d err=%v", user, err)
					continue
				}
				log.Printf("[Sim] 🤝 FILLED: position=%d user=%d premium=%d", id, user, order.QuotedPremium())

			case 3:
				// 随机平一个活跃仓位
				active := engine.GetActivePositions(user)
				if len(active) == 0 {
					continue
				}
				pos := active[rand.Intn(len(active))]
				if err := engine.ClosePosition(user, pos.PositionID); err != nil {
					log.Printf("[Sim] close rejected: position=%d err=%v", pos.PositionID, err)
					continue
				}
				log.Printf("[Sim] 🔓 CLOSED: position=%d user=%d collateral=%d", pos.PositionID, user, pos.Collateral)
			}
		}
	}
}
