package hub

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/device"
)

// warmStart seeds the reconciler from the snapshot store. It runs before the
// loop starts, so it touches loop-owned state directly.
func (h *Hub) warmStart(ctx context.Context) {
	if h.store == nil {
		return
	}
	rows, err := h.store.Load(ctx)
	if err != nil {
		h.logger.Warn("loading device snapshot failed", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	if h.recon.ApplySnapshot(rows, h.now()) {
		list := h.recon.List()
		h.devices.Store(&list)
	}
	h.logger.Info("warm start from snapshot", "devices", len(rows))
}

// scheduleSave arms the debounce timer. Loop-owned.
func (h *Hub) scheduleSave() {
	if h.store == nil {
		return
	}
	h.unsaved = true
	if h.saveTimer != nil {
		return
	}
	h.saveTimer = time.AfterFunc(h.delay, func() {
		h.post(h.save)
	})
}

func (h *Hub) stopSaveTimer() {
	if h.saveTimer != nil {
		h.saveTimer.Stop()
		h.saveTimer = nil
	}
}

// save writes the current list off the loop.
func (h *Hub) save() {
	h.saveTimer = nil
	h.unsaved = false
	list := h.ListDevices()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.write(list)
	}()
}

// flushSave writes synchronously if changes are still unsaved at shutdown.
func (h *Hub) flushSave() {
	if h.store == nil || !h.unsaved {
		return
	}
	h.unsaved = false
	h.write(h.ListDevices())
}

func (h *Hub) write(list []device.Record) {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := h.store.Save(ctx, list); err != nil {
		h.logger.Warn("saving device snapshot failed", "error", err)
		return
	}
	h.logger.Debug("device snapshot saved", "devices", len(list))
}
