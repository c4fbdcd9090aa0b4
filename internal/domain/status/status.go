// Package status вычисляет сводный статус синхронизации терминала.
package status

import (
	"time"

	"possync/internal/domain/financial"
)

// State сводное состояние по убыванию приоритета.
type State string

const (
	StateOffline State = "offline"
	StateSyncing State = "syncing"
	StateError   State = "error"
	StatePending State = "pending"
	StateSynced  State = "synced"
)

// SyncStatus статус для потребителей. Пересчитывается при каждом обновлении
// и нигде не хранится.
type SyncStatus struct {
	State               State                       `json:"state"`
	IsOnline            bool                        `json:"is_online"`
	LastSync            *time.Time                  `json:"last_sync,omitempty"`
	PendingItems        int                         `json:"pending_items"`
	SyncInProgress      bool                        `json:"sync_in_progress"`
	Error               string                      `json:"error,omitempty"`
	TerminalHealth      float64                     `json:"terminal_health"`
	SettingsVersion     int                         `json:"settings_version"`
	MenuVersion         int                         `json:"menu_version"`
	PendingPaymentItems int                         `json:"pending_payment_items"`
	FailedPaymentItems  int                         `json:"failed_payment_items"`
	OpenConflicts       int                         `json:"open_conflicts"`
	FailedByCategory    map[financial.TableName]int `json:"failed_by_category"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// Inputs исходные данные для вычисления статуса.
type Inputs struct {
	IsOnline            bool
	SyncInProgress      bool
	LastSync            *time.Time
	LastError           string
	PendingItems        int
	PendingPaymentItems int
	FailedByCategory    map[financial.TableName]int
	OpenConflicts       int
	SettingsVersion     int
	MenuVersion         int
}

// FailedTotal число неотправленных финансовых записей.
func (in Inputs) FailedTotal() int {
	total := 0
	for _, n := range in.FailedByCategory {
		total += n
	}
	return total
}

const (
	penaltyOffline  = 0.4
	penaltyConflict = 0.25
	penaltyFailed   = 0.2
	penaltyError    = 0.15
)

// Compute вычисляет статус. Открытый конфликт или неотправленная
// финансовая запись всегда дают error, если терминал в сети и не синхронизируется.
func Compute(in Inputs, now time.Time) SyncStatus {
	failed := in.FailedTotal()

	st := SyncStatus{
		IsOnline:            in.IsOnline,
		PendingItems:        in.PendingItems,
		SyncInProgress:      in.SyncInProgress,
		Error:               in.LastError,
		SettingsVersion:     in.SettingsVersion,
		MenuVersion:         in.MenuVersion,
		PendingPaymentItems: in.PendingPaymentItems,
		FailedPaymentItems:  failed,
		OpenConflicts:       in.OpenConflicts,
		FailedByCategory:    make(map[financial.TableName]int, len(in.FailedByCategory)),
		UpdatedAt:           now,
	}
	for k, v := range in.FailedByCategory {
		st.FailedByCategory[k] = v
	}
	if in.LastSync != nil {
		t := *in.LastSync
		st.LastSync = &t
	}

	switch {
	case !in.IsOnline:
		st.State = StateOffline
	case in.SyncInProgress:
		st.State = StateSyncing
	case in.OpenConflicts > 0 || in.LastError != "" || failed > 0:
		st.State = StateError
	case in.PendingItems > 0 || in.PendingPaymentItems > 0:
		st.State = StatePending
	default:
		st.State = StateSynced
	}

	st.TerminalHealth = health(in, failed)
	return st
}

func health(in Inputs, failed int) float64 {
	h := 1.0
	if !in.IsOnline {
		h -= penaltyOffline
	}
	if in.OpenConflicts > 0 {
		h -= penaltyConflict
	}
	if failed > 0 {
		h -= penaltyFailed
	}
	if in.LastError != "" {
		h -= penaltyError
	}
	if h < 0 {
		return 0
	}
	if h > 1 {
		return 1
	}
	return h
}
