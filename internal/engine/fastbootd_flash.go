package engine

import (
	"fmt"

	"context"

	"flashkit/internal/model"
)

// fastbootdFlash writes the dynamic super partition as its ordered 1..N
// splits. A split is never started before the previous one's exit status
// is known.
func (e *Engine) fastbootdFlash(ctx context.Context) *FlashError {
	pf, ok := e.bundle.Find(model.PartitionSuper)
	if !ok || len(pf.Splits) == 0 {
		return newErr(ErrBundleIncomplete, "bundle is missing the super partition image")
	}

	splits := make([]model.SuperSplit, len(pf.Splits))
	copy(splits, pf.Splits)
	for i := 0; i < len(splits); i++ {
		for j := i + 1; j < len(splits); j++ {
			if splits[j].Index < splits[i].Index {
				splits[i], splits[j] = splits[j], splits[i]
			}
		}
	}

	total := len(splits)
	for i, split := range splits {
		if err := ctxErr(ctx); err != nil {
			return newErr(ErrCancelled, fmt.Sprintf("cancelled before super split %d/%d", split.Index, total))
		}
		e.emitProgress("fastbootd_flash", model.PartitionSuper, model.LevelInfo,
			fmt.Sprintf("flashing super split %d/%d", split.Index, total), (i*100)/total, i, total)

		if ferr := e.flashOne(ctx, model.PartitionSuper, split.Path, timeoutFlashSuper); ferr != nil {
			return ferr
		}
	}

	e.emit("fastbootd_flash", model.PartitionSuper, model.LevelSuccess, "super partition fully written")
	return nil
}
