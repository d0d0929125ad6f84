package auth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MariaConfig содержит настройки подключения к MariaDB
type MariaConfig struct {
	Host     string // например, localhost
	Port     int    // например, 3306
	Database string // например, cow_game
	Username string // пользователь БД
	Password string // пароль БД
}

// MariaUserRepo реализует UserRepository для MariaDB
type MariaUserRepo struct {
	db *sql.DB
}

// NewMariaUserRepo создает новое подключение к MariaDB и возвращает репозиторий
func NewMariaUserRepo(cfg MariaConfig) (*MariaUserRepo, error) {
	// Устанавливаем значения по умолчанию
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Database == "" {
		cfg.Database = "cow_game"
	}

	// Формируем DSN (Data Source Name)
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	// Открываем подключение
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}

	// Проверяем подключение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaUserRepo{db: db}

	// Создаем таблицы, если их нет
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return repo, nil
}

// createTables создает необходимые таблицы в БД
func (m *MariaUserRepo) createTables() error {
	// Таблица аккаунтов: username хранит оригинальный регистр,
	// username_lower служит ключом идентичности
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(50) NOT NULL,
		username_lower VARCHAR(50) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_login TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		color VARCHAR(16) NOT NULL DEFAULT '#ffffff',
		color_updated_at TIMESTAMP NULL DEFAULT NULL,
		INDEX idx_username_lower (username_lower)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createUsersTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу users: %w", err)
	}

	return nil
}

// FindByUsername получает пользователя по имени (без учета регистра)
func (m *MariaUserRepo) FindByUsername(username string) (*User, error) {
	query := `SELECT id, username, password_hash, created_at, last_login, color
			  FROM users WHERE username_lower = ?`

	var user User
	err := m.db.QueryRow(query, normalize(username)).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.LastLogin,
		&user.Color,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	return &user, nil
}

// CreateUser создает новый аккаунт
func (m *MariaUserRepo) CreateUser(username string, passwordHash string, color string) (*User, error) {
	if color == "" {
		color = DefaultColor
	}
	now := time.Now()

	query := `INSERT INTO users (username, username_lower, password_hash, created_at, last_login, color, color_updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := m.db.Exec(query, username, normalize(username), passwordHash, now, now, color, now)
	if err != nil {
		// Проверяем на дублирование пользователя
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	// Получаем ID созданного аккаунта
	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении ID пользователя: %w", err)
	}

	return &User{
		ID:           uint64(userID),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		LastLogin:    now,
		Color:        color,
	}, nil
}

// RecordLogin обновляет время последнего входа пользователя
func (m *MariaUserRepo) RecordLogin(username string) error {
	query := `UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE username_lower = ?`

	_, err := m.db.Exec(query, normalize(username))
	if err != nil {
		return fmt.Errorf("ошибка при обновлении времени входа: %w", err)
	}

	return nil
}

// GetColor возвращает сохраненный цвет коровы
func (m *MariaUserRepo) GetColor(username string) (string, error) {
	query := `SELECT color FROM users WHERE username_lower = ?`

	var color string
	err := m.db.QueryRow(query, normalize(username)).Scan(&color)
	if err == sql.ErrNoRows {
		return DefaultColor, nil
	}
	if err != nil {
		return DefaultColor, fmt.Errorf("ошибка при получении цвета: %w", err)
	}
	if color == "" {
		return DefaultColor, nil
	}

	return color, nil
}

// SetColor сохраняет цвет коровы для аккаунта
func (m *MariaUserRepo) SetColor(username string, color string) error {
	query := `UPDATE users SET color = ?, color_updated_at = ? WHERE username_lower = ?`

	_, err := m.db.Exec(query, color, time.Now(), normalize(username))
	if err != nil {
		return fmt.Errorf("ошибка при сохранении цвета: %w", err)
	}

	return nil
}

// GetUserStats возвращает статистику аккаунтов для REST API
func (m *MariaUserRepo) GetUserStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	// Общее количество аккаунтов
	var totalUsers int
	err := m.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&totalUsers)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении количества пользователей: %w", err)
	}
	stats["total_users"] = totalUsers

	// Аккаунты, заходившие за последние 24 часа
	var recentUsers int
	err = m.db.QueryRow("SELECT COUNT(*) FROM users WHERE last_login > DATE_SUB(NOW(), INTERVAL 24 HOUR)").Scan(&recentUsers)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении недавних пользователей: %w", err)
	}
	stats["recent_users_24h"] = recentUsers

	return stats, nil
}

// DB возвращает подключение для смежных компонентов (leaderboard)
func (m *MariaUserRepo) DB() *sql.DB {
	return m.db
}

// Close закрывает подключение к БД
func (m *MariaUserRepo) Close() error {
	return m.db.Close()
}
