package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	t.Run("промах на пустом кеше", func(t *testing.T) {
		if _, err := c.Get(ctx, "missing"); err != ErrCacheMiss {
			t.Errorf("ожидался ErrCacheMiss, получено %v", err)
		}
	})

	t.Run("запись и чтение", func(t *testing.T) {
		if err := c.Set(ctx, "key", []byte("value"), 0); err != nil {
			t.Fatalf("ошибка записи: %v", err)
		}
		data, err := c.Get(ctx, "key")
		if err != nil {
			t.Fatalf("ошибка чтения: %v", err)
		}
		if string(data) != "value" {
			t.Errorf("ожидалось 'value', получено '%s'", data)
		}
	})

	t.Run("истечение TTL", func(t *testing.T) {
		if err := c.Set(ctx, "short", []byte("x"), time.Millisecond); err != nil {
			t.Fatalf("ошибка записи: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		if _, err := c.Get(ctx, "short"); err != ErrCacheMiss {
			t.Errorf("ожидался ErrCacheMiss после истечения TTL, получено %v", err)
		}
	})

	t.Run("удаление", func(t *testing.T) {
		_ = c.Set(ctx, "gone", []byte("x"), 0)
		if err := c.Delete(ctx, "gone"); err != nil {
			t.Fatalf("ошибка удаления: %v", err)
		}
		if _, err := c.Get(ctx, "gone"); err != ErrCacheMiss {
			t.Errorf("ключ должен быть удален")
		}
	})
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisCache(client, "test:cache:")

	t.Run("промах", func(t *testing.T) {
		if _, err := c.Get(ctx, "missing"); err != ErrCacheMiss {
			t.Errorf("ожидался ErrCacheMiss, получено %v", err)
		}
	})

	t.Run("запись с префиксом", func(t *testing.T) {
		if err := c.Set(ctx, "top", []byte(`{"entries":[]}`), time.Minute); err != nil {
			t.Fatalf("ошибка записи: %v", err)
		}
		if !mr.Exists("test:cache:top") {
			t.Error("ключ должен храниться с префиксом")
		}
		data, err := c.Get(ctx, "top")
		if err != nil {
			t.Fatalf("ошибка чтения: %v", err)
		}
		if string(data) != `{"entries":[]}` {
			t.Errorf("неожиданное значение: %s", data)
		}
	})

	t.Run("истечение TTL", func(t *testing.T) {
		_ = c.Set(ctx, "short", []byte("x"), time.Second)
		mr.FastForward(2 * time.Second)
		if _, err := c.Get(ctx, "short"); err != ErrCacheMiss {
			t.Errorf("ожидался ErrCacheMiss после истечения TTL, получено %v", err)
		}
	})
}
