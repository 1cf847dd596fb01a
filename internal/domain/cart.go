package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CartLine представляет одну позицию корзины с зафиксированной на момент
// добавления ценой. Цена никогда не перечитывается из каталога.
type CartLine struct {
	ProductID   string
	VariantID   string // Может быть пустым, если у товара нет вариантов.
	ProductName string
	VariantName string
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах (центах).
	UnitPriceMinor int64
	Currency       string
	Quantity       int32
	ImageURL       string
	AddedAt        time.Time
}

// Key возвращает ключ дедупликации позиции внутри корзины.
func (l CartLine) Key() string {
	return LineKey(l.ProductID, l.VariantID)
}

// LineKey строит ключ позиции по паре (product_id, variant_id).
func LineKey(productID, variantID string) string {
	return productID + "\x1f" + variantID
}

// CartSession агрегирует состояние корзины одной браузерной сессии.
// Version используется для optimistic locking при записи.
type CartSession struct {
	SessionID string
	Lines     []CartLine
	Version   int64
	UpdatedAt time.Time
}

// TotalMinor возвращает сумму корзины в минимальных единицах.
func (c *CartSession) TotalMinor() int64 {
	var total int64
	for _, line := range c.Lines {
		total += int64(line.Quantity) * line.UnitPriceMinor
	}
	return total
}

// TotalItems возвращает суммарное количество единиц товара в корзине.
func (c *CartSession) TotalItems() int32 {
	var total int32
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

// IsEmpty сообщает, пуста ли корзина.
func (c *CartSession) IsEmpty() bool {
	return len(c.Lines) == 0
}

// FindLine возвращает индекс позиции с данным ключом или -1.
func (c *CartSession) FindLine(productID, variantID string) int {
	key := LineKey(productID, variantID)
	for i, line := range c.Lines {
		if line.Key() == key {
			return i
		}
	}
	return -1
}

// CloneLines возвращает независимую копию позиций для снапшота checkout.
func (c *CartSession) CloneLines() []CartLine {
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return lines
}

// ValidateInvariants проверяет базовые инварианты корзины и возвращает список замечаний.
func (c *CartSession) ValidateInvariants() []error {
	var errs []error

	if c.SessionID == "" {
		errs = append(errs, ErrSessionIDRequired)
	}

	seen := make(map[string]struct{}, len(c.Lines))
	for _, line := range c.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if line.UnitPriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
		if _, dup := seen[line.Key()]; dup {
			errs = append(errs, ErrDuplicateCartLine)
		}
		seen[line.Key()] = struct{}{}
	}

	return errs
}

// Hash возвращает детерминированный хеш содержимого корзины. Позиции
// сортируются по ключу, поэтому порядок добавления на хеш не влияет.
// Хеш входит в вывод idempotency-ключа checkout-попытки.
func (c *CartSession) Hash() string {
	lines := c.CloneLines()
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].Key() < lines[j].Key()
	})

	var sb strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&sb, "%s|%s|%d|%d|%s\n",
			line.ProductID, line.VariantID, line.Quantity, line.UnitPriceMinor, line.Currency)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// PriceSnapshot описывает результат резолва цены и отображаемых атрибутов
// товара в момент добавления в корзину.
type PriceSnapshot struct {
	ProductID      string
	VariantID      string
	ProductName    string
	VariantName    string
	UnitPriceMinor int64
	Currency       string
	ImageURL       string
}
