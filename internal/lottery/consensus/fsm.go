package consensus

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

// fsm feeds committed log entries to the application. Every replica runs
// it, so every replica publishes.
type fsm struct {
	app       *app.App
	publisher Publisher
	logger    zerolog.Logger
}

func (f *fsm) Apply(entry *raft.Log) interface{} {
	var tx protocol.Tx
	if err := json.Unmarshal(entry.Data, &tx); err != nil {
		f.logger.Error().Err(err).Uint64("index", entry.Index).Msg("undecodable raft entry")
		return fmt.Errorf("decode tx: %w", err)
	}
	res, err := f.app.ApplyTx(tx)
	if err != nil {
		f.logger.Debug().Err(err).Str("tx_id", tx.TxID).Str("op", string(tx.Op)).Uint64("index", entry.Index).Msg("tx rejected")
		if f.publisher != nil {
			f.publisher.PublishRejected(tx, err)
		}
		return err
	}
	if f.publisher != nil {
		f.publisher.PublishApplied(res)
	}
	return res
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.app.Marshal()
	if err != nil {
		return nil, fmt.Errorf("snapshot app: %w", err)
	}
	return appSnapshot(data), nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := f.app.Unmarshal(data); err != nil {
		return fmt.Errorf("restore app: %w", err)
	}
	f.logger.Info().Uint64("height", f.app.Status().Height).Msg("restored from snapshot")
	return nil
}

// appSnapshot is the serialized application captured at Snapshot time.
type appSnapshot []byte

func (s appSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (appSnapshot) Release() {}
