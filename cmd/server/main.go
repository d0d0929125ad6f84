package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/cow-game/internal/api"
	"github.com/annel0/cow-game/internal/auth"
	"github.com/annel0/cow-game/internal/cache"
	"github.com/annel0/cow-game/internal/config"
	"github.com/annel0/cow-game/internal/eventbus"
	"github.com/annel0/cow-game/internal/leaderboard"
	"github.com/annel0/cow-game/internal/logging"
	"github.com/annel0/cow-game/internal/network"
	"github.com/annel0/cow-game/internal/observability"
	"github.com/annel0/cow-game/internal/session"
	"github.com/annel0/cow-game/internal/stats"
	"github.com/annel0/cow-game/internal/world"
)

func main() {
	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🐮 Запуск Cow Game Server...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	gamePort := cfg.Server.GetGamePort()
	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	logging.Info("📡 Конфигурация: игра=:%d, REST API=%s", gamePort, restPort)

	// === OBSERVABILITY ===
	shutdownTelemetry, err := observability.InitTelemetry(context.Background(), "cow-game")
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry недоступен: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ШИНА СОБЫТИЙ ===
	var (
		bus       eventbus.EventBus
		busCloser func()
	)
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Warn("⚠️ NATS недоступен (%v), события остаются in-memory", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			bus = jsBus
			busCloser = jsBus.Close
			logging.Info("✅ Шина событий: NATS JetStream %s", cfg.EventBus.URL)
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}
	eventbus.Init(bus)
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ Логирование событий шины недоступно: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.Start()

	// === ХРАНИЛИЩЕ СТАТИСТИКИ ===
	var store stats.StatsStore
	redisStore, err := stats.NewRedisStatsStore(stats.RedisConfig{
		Addr:      cfg.Redis.GetAddr(),
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		OpTimeout: cfg.Game.StoreTimeout(),
	})
	if err != nil {
		logging.Warn("⚠️ Redis недоступен (%v), прогресс только в памяти", err)
		store = stats.NewMemoryStatsStore()
	} else {
		store = redisStore
		logging.Info("✅ Redis подключен: %s", cfg.Redis.GetAddr())
	}

	// === СПРАВОЧНИК АККАУНТОВ ===
	var (
		users     auth.UserRepository
		mariaRepo *auth.MariaUserRepo
		mongoRepo *auth.MongoUserRepo
	)
	switch cfg.Database.Backend {
	case "maria":
		repo, err := auth.NewMariaUserRepo(auth.MariaConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logging.Warn("⚠️ MariaDB недоступна (%v), аккаунты в памяти", err)
			users = auth.NewMemoryUserRepo()
		} else {
			users = repo
			mariaRepo = repo
			logging.Info("✅ MariaDB подключена: %s:%d", cfg.Database.Host, cfg.Database.Port)
		}
	case "mongo":
		repo, err := auth.NewMongoUserRepo(auth.MongoConfig{
			URI:      cfg.Database.MongoURI,
			Database: cfg.Database.Database,
		})
		if err != nil {
			logging.Warn("⚠️ MongoDB недоступна (%v), аккаунты в памяти", err)
			users = auth.NewMemoryUserRepo()
		} else {
			users = repo
			mongoRepo = repo
			logging.Info("✅ MongoDB подключена")
		}
	default:
		users = auth.NewMemoryUserRepo()
		logging.Info("ℹ️ Справочник аккаунтов в памяти (backend=%q)", cfg.Database.Backend)
	}

	// === ИГРОВЫЕ КОМПОНЕНТЫ ===
	registry := session.NewRegistry()
	broadcaster := network.NewBroadcaster()

	spawner := world.NewHaySpawner(
		cfg.Game.MaxHay(),
		cfg.Game.Bound(),
		cfg.Game.HayInterval(),
		func(item world.HayItem) {
			broadcaster.SendToAll(network.HaySpawnedEvent{
				Type:     "hay_spawned",
				HayID:    item.ID,
				Position: item.Position,
			})
		},
	)

	manager := network.NewConnectionManager(registry, spawner, store, users, broadcaster)
	gameServer := network.NewGameServer(gamePort, manager)

	// === ТАБЛИЦА ЛИДЕРОВ ===
	var board *leaderboard.Syncer
	if redisStore != nil && mariaRepo != nil {
		board, err = leaderboard.NewSyncer(redisStore.Client(), mariaRepo.DB())
		if err != nil {
			logging.Warn("⚠️ Таблица лидеров недоступна: %v", err)
			board = nil
		} else {
			board.StartPeriodic(time.Minute)
			logging.Info("✅ Синхронизация таблицы лидеров запущена")
		}
	}

	// === REST API ===
	var restCache cache.Cache
	if redisStore != nil {
		restCache = cache.NewRedisCache(redisStore.Client(), "cow_game:cache:")
	}
	restServer := api.NewRestServer(api.Config{
		Port:         restPort,
		UserRepo:     users,
		StatsStore:   store,
		Registry:     registry,
		Leaderboard:  board,
		Cache:        restCache,
		StoreTimeout: cfg.Game.StoreTimeout(),
	})
	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ REST API: %v", err)
		}
	}()

	// === ЗАПУСК ===
	spawner.StartSpawning()
	manager.StartSweep(cfg.Game.SweepInterval())
	go func() {
		if err := gameServer.Start(); err != nil {
			logging.Error("❌ Игровой сервер: %v", err)
			os.Exit(1)
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🎮 Игра: ws://localhost:%d", gamePort)
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)

	// Ждем сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	// Если мягкое завершение зависло, процесс убивается по таймеру.
	shutdownTimeout := cfg.Game.ShutdownTimeout()
	force := time.AfterFunc(shutdownTimeout, func() {
		logging.Error("❌ Завершение зависло (> %v), принудительный выход", shutdownTimeout)
		os.Exit(1)
	})
	defer force.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Порядок: прекратить прием → закрыть соединения → остановить
	// таймеры → закрыть хранилища.
	if err := gameServer.Shutdown(ctx); err != nil {
		logging.Warn("⚠️ Остановка игрового сервера: %v", err)
	}
	manager.StopSweep()
	spawner.StopSpawning()

	if err := restServer.Stop(ctx); err != nil {
		logging.Warn("⚠️ Остановка REST API: %v", err)
	}
	if board != nil {
		board.StopPeriodic()
	}

	if err := store.Close(); err != nil {
		logging.Warn("⚠️ Закрытие хранилища статистики: %v", err)
	}
	if mariaRepo != nil {
		mariaRepo.Close()
	}
	if mongoRepo != nil {
		_ = mongoRepo.Close()
	}
	busMetrics.Stop()
	if busCloser != nil {
		busCloser()
	}
	_ = shutdownTelemetry(context.Background())

	logging.Info("👋 Сервер остановлен")
}
