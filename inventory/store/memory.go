// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-ledger/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	products      map[inventory.ProductID]inventory.Product
	transactions  []inventory.Transaction // id ascending
	idempotency   map[string]bool
	nextProductID inventory.ProductID
	nextTxID      inventory.TransactionID
}

var _ inventory.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		products:      make(map[inventory.ProductID]inventory.Product),
		idempotency:   make(map[string]bool),
		nextProductID: 1,
		nextTxID:      1,
	}
}

func (m *Memory) InsertProduct(_ context.Context, p inventory.Product) (inventory.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertProductLocked(p), nil
}

func (m *Memory) GetProduct(_ context.Context, id inventory.ProductID) (inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(id)
}

func (m *Memory) ListProducts(_ context.Context) ([]inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProductsLocked(), nil
}

func (m *Memory) UpdateProduct(_ context.Context, p inventory.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateProductLocked(p)
}

func (m *Memory) DeleteProduct(_ context.Context, id inventory.ProductID, purgeHistory bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteProductLocked(id, purgeHistory)
}

func (m *Memory) ApplyDelta(_ context.Context, id inventory.ProductID, delta int64, at time.Time) (inventory.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyDeltaLocked(id, delta, at)
}

func (m *Memory) AppendTransaction(_ context.Context, tx inventory.Transaction) (inventory.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) LoadTransactions(_ context.Context, filter inventory.TxFilter) ([]inventory.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(filter), nil
}

func (m *Memory) CountTransactions(_ context.Context, productID inventory.ProductID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(productID), nil
}

func (m *Memory) IdempotencyKeyExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[key], nil
}

// WithTx executes fn within a transaction.
// For the memory store this is the write lock plus an undo log replayed on error.
// Each write records its own inverse, so a movement costs O(1) extra work
// however large the store grows.
func (m *Memory) WithTx(_ context.Context, fn func(inventory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tv := &txView{parent: m}
	if err := fn(tv); err != nil {
		tv.rollback()
		return err
	}
	return nil
}

// =============================================================================
// LOCKED OPERATIONS - caller holds m.mu
// =============================================================================

func (m *Memory) insertProductLocked(p inventory.Product) inventory.Product {
	p.ID = m.nextProductID
	m.nextProductID++
	m.products[p.ID] = p
	return p
}

func (m *Memory) getProductLocked(id inventory.ProductID) (inventory.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return inventory.Product{}, &inventory.NotFoundError{Entity: "product", ID: int64(id)}
	}
	return p, nil
}

func (m *Memory) listProductsLocked() []inventory.Product {
	result := make([]inventory.Product, 0, len(m.products))
	for _, p := range m.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *Memory) updateProductLocked(p inventory.Product) error {
	current, err := m.getProductLocked(p.ID)
	if err != nil {
		return err
	}
	current.Name = p.Name
	current.Price = p.Price
	current.UpdatedAt = p.UpdatedAt
	m.products[p.ID] = current
	return nil
}

func (m *Memory) deleteProductLocked(id inventory.ProductID, purgeHistory bool) error {
	if _, err := m.getProductLocked(id); err != nil {
		return err
	}
	delete(m.products, id)
	if !purgeHistory {
		return nil
	}
	kept := m.transactions[:0]
	for _, tx := range m.transactions {
		if tx.ProductID == id {
			delete(m.idempotency, tx.IdempotencyKey)
			continue
		}
		kept = append(kept, tx)
	}
	m.transactions = kept
	return nil
}

func (m *Memory) applyDeltaLocked(id inventory.ProductID, delta int64, at time.Time) (inventory.Product, error) {
	p, err := m.getProductLocked(id)
	if err != nil {
		return inventory.Product{}, err
	}
	next := p.Quantity + delta
	if next < 0 {
		return inventory.Product{}, &inventory.InsufficientStockError{ProductID: id, Current: p.Quantity, Delta: delta}
	}
	p.Quantity = next
	p.UpdatedAt = at
	m.products[id] = p
	return p, nil
}

func (m *Memory) appendLocked(tx inventory.Transaction) (inventory.Transaction, error) {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return inventory.Transaction{}, inventory.ErrDuplicateIdempotencyKey
	}
	tx.ID = m.nextTxID
	m.nextTxID++
	m.transactions = append(m.transactions, tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return tx, nil
}

func (m *Memory) loadLocked(filter inventory.TxFilter) []inventory.Transaction {
	result := make([]inventory.Transaction, 0)
	for _, tx := range m.transactions {
		if filter.ProductID != nil && tx.ProductID != *filter.ProductID {
			continue
		}
		if filter.Since != nil && tx.CreatedAt.Before(*filter.Since) {
			continue
		}
		result = append(result, tx)
	}
	if filter.Newest {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func (m *Memory) countLocked(productID inventory.ProductID) int {
	n := 0
	for _, tx := range m.transactions {
		if tx.ProductID == productID {
			n++
		}
	}
	return n
}

// =============================================================================
// TRANSACTIONAL VIEW - used inside WithTx, parent lock already held
// =============================================================================

type txView struct {
	parent *Memory
	undo   []func() // inverse of each write, applied newest first
}

func (tv *txView) rollback() {
	for i := len(tv.undo) - 1; i >= 0; i-- {
		tv.undo[i]()
	}
	tv.undo = nil
}

func (tv *txView) InsertProduct(_ context.Context, p inventory.Product) (inventory.Product, error) {
	m := tv.parent
	prevID := m.nextProductID
	inserted := m.insertProductLocked(p)
	tv.undo = append(tv.undo, func() {
		delete(m.products, inserted.ID)
		m.nextProductID = prevID
	})
	return inserted, nil
}

func (tv *txView) GetProduct(_ context.Context, id inventory.ProductID) (inventory.Product, error) {
	return tv.parent.getProductLocked(id)
}

func (tv *txView) ListProducts(_ context.Context) ([]inventory.Product, error) {
	return tv.parent.listProductsLocked(), nil
}

func (tv *txView) UpdateProduct(_ context.Context, p inventory.Product) error {
	m := tv.parent
	prev, err := m.getProductLocked(p.ID)
	if err != nil {
		return err
	}
	if err := m.updateProductLocked(p); err != nil {
		return err
	}
	tv.undo = append(tv.undo, func() { m.products[prev.ID] = prev })
	return nil
}

func (tv *txView) DeleteProduct(_ context.Context, id inventory.ProductID, purgeHistory bool) error {
	m := tv.parent
	prev, err := m.getProductLocked(id)
	if err != nil {
		return err
	}
	var (
		prevTxs  []inventory.Transaction
		prevKeys []string
	)
	if purgeHistory {
		// the purge filters m.transactions in place
		prevTxs = append([]inventory.Transaction(nil), m.transactions...)
		for _, tx := range m.transactions {
			if tx.ProductID == id && tx.IdempotencyKey != "" {
				prevKeys = append(prevKeys, tx.IdempotencyKey)
			}
		}
	}
	if err := m.deleteProductLocked(id, purgeHistory); err != nil {
		return err
	}
	tv.undo = append(tv.undo, func() {
		m.products[id] = prev
		if purgeHistory {
			m.transactions = prevTxs
			for _, key := range prevKeys {
				m.idempotency[key] = true
			}
		}
	})
	return nil
}

func (tv *txView) ApplyDelta(_ context.Context, id inventory.ProductID, delta int64, at time.Time) (inventory.Product, error) {
	m := tv.parent
	prev, err := m.getProductLocked(id)
	if err != nil {
		return inventory.Product{}, err
	}
	p, err := m.applyDeltaLocked(id, delta, at)
	if err != nil {
		return inventory.Product{}, err
	}
	tv.undo = append(tv.undo, func() { m.products[id] = prev })
	return p, nil
}

func (tv *txView) AppendTransaction(_ context.Context, tx inventory.Transaction) (inventory.Transaction, error) {
	m := tv.parent
	prevLen, prevID := len(m.transactions), m.nextTxID
	appended, err := m.appendLocked(tx)
	if err != nil {
		return inventory.Transaction{}, err
	}
	tv.undo = append(tv.undo, func() {
		m.transactions = m.transactions[:prevLen]
		m.nextTxID = prevID
		if appended.IdempotencyKey != "" {
			delete(m.idempotency, appended.IdempotencyKey)
		}
	})
	return appended, nil
}

func (tv *txView) LoadTransactions(_ context.Context, filter inventory.TxFilter) ([]inventory.Transaction, error) {
	return tv.parent.loadLocked(filter), nil
}

func (tv *txView) CountTransactions(_ context.Context, productID inventory.ProductID) (int, error) {
	return tv.parent.countLocked(productID), nil
}

func (tv *txView) IdempotencyKeyExists(_ context.Context, key string) (bool, error) {
	return tv.parent.idempotency[key], nil
}

// WithTx on a view joins the enclosing transaction.
func (tv *txView) WithTx(_ context.Context, fn func(inventory.Store) error) error {
	return fn(tv)
}
