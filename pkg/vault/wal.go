// 文件: pkg/vault/wal.go
// 金库 WAL (Write-Ahead Log)
//
// 核心原则:
// 1. 代币交互成功后、内存生效前落日志
// 2. 崩溃后重放日志即可重建账本 (仓位/计数器/平台参数)
// 3. 代币余额本身不在恢复范围内，由代币账本自行持久化

package vault

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// WAL 条目格式
// =============================================================================

// WALEntryType 条目类型
type WALEntryType uint8

const (
	WALCreate    WALEntryType = iota + 1 // 开仓
	WALClose                             // 平仓
	WALUpdateFee                         // 更新费率
	WALUpdateMin                         // 更新最低抵押
	WALPause                             // 暂停
	WALUnpause                           // 恢复
	WALWithdraw                          // 提取手续费
)

// 方向标志位 (flags 字节)
const (
	flagAutoRoll = 1 << 0
	flagIsCall   = 1 << 1
	flagIsLong   = 1 << 2
)

// WALEntry WAL 条目
type WALEntry struct {
	Seq       uint64       // 序列号 (递增)
	Type      WALEntryType // 条目类型
	Timestamp int64        // 账本时间 (unix 秒)

	// 仓位参数 (WALCreate / WALClose)
	PositionID int64
	Owner      int64 // WALWithdraw 时复用为收款账户
	Collateral int64
	Premium    int64
	Fee        int64
	Strike     int64
	Expiry     int64
	AutoRoll   bool
	IsCall     bool
	IsLong     bool

	// 平台参数 (WALUpdateFee / WALUpdateMin / WALWithdraw)
	Amount int64
}

// =============================================================================
// WAL 写入器
// =============================================================================

// WAL Write-Ahead Log
type WAL struct {
	dir    string
	file   *os.File
	writer *bufio.Writer

	seq uint64

	mu  sync.Mutex // 仅用于外部调用
	buf []byte     // 复用缓冲区
}

// WALConfig WAL 配置
type WALConfig struct {
	Dir string // 日志目录
}

// NewWAL 创建 WAL
func NewWAL(cfg WALConfig) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	path := filepath.Join(cfg.Dir, "vault.wal")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	return &WAL{
		dir:    cfg.Dir,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024), // 64KB 缓冲
		buf:    make([]byte, 128),
	}, nil
}

// Append 追加条目
func (w *WAL) Append(entry *WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	entry.Seq = w.seq
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}

	data := w.encodeEntry(entry)

	// 写入: [长度 4B][数据][CRC 4B]
	length := uint32(len(data))
	crc := crc32.ChecksumIEEE(data)

	if err := binary.Write(w.writer, binary.LittleEndian, length); err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, crc); err != nil {
		return err
	}

	return nil
}

// Sync 刷盘
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close 关闭
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	return w.file.Close()
}

// GetSequence 获取当前序列号
func (w *WAL) GetSequence() uint64 {
	return w.seq
}

// =============================================================================
// 序列化
// =============================================================================

// 条目是定长的: seq(8) + type(1) + ts(8) + 8 个 int64 + flags(1)
const walEntrySize = 8 + 1 + 8 + 8*8 + 1

func (w *WAL) encodeEntry(e *WALEntry) []byte {
	buf := w.buf[:0]

	buf = binary.LittleEndian.AppendUint64(buf, e.Seq)
	buf = append(buf, byte(e.Type))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))

	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.PositionID))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Owner))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Collateral))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Premium))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Fee))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Strike))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Expiry))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Amount))

	var flags byte
	if e.AutoRoll {
		flags |= flagAutoRoll
	}
	if e.IsCall {
		flags |= flagIsCall
	}
	if e.IsLong {
		flags |= flagIsLong
	}
	buf = append(buf, flags)

	w.buf = buf
	return buf
}

func decodeEntry(data []byte) (*WALEntry, error) {
	if len(data) < walEntrySize {
		return nil, errors.New("wal entry too short")
	}

	e := &WALEntry{}
	offset := 0

	e.Seq = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	e.Type = WALEntryType(data[offset])
	offset += 1
	e.Timestamp = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	e.PositionID = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	e.Owner = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	e.Collateral = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	e.Premium = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	e.Fee = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	e.Strike = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	e.Expiry = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	e.Amount = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	flags := data[offset]
	e.AutoRoll = flags&flagAutoRoll != 0
	e.IsCall = flags&flagIsCall != 0
	e.IsLong = flags&flagIsLong != 0

	return e, nil
}

// =============================================================================
// WAL 恢复
// =============================================================================

// Recover 读取 WAL 并逐条重放
func (w *WAL) Recover(applyFn func(*WALEntry) error) (uint64, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	reader := bufio.NewReader(w.file)
	var lastSeq uint64

	for {
		var length uint32
		if err := binary.Read(reader, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return lastSeq, fmt.Errorf("read length: %w", err)
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(reader, data); err != nil {
			return lastSeq, fmt.Errorf("read data: %w", err)
		}

		var crc uint32
		if err := binary.Read(reader, binary.LittleEndian, &crc); err != nil {
			return lastSeq, fmt.Errorf("read crc: %w", err)
		}
		if crc32.ChecksumIEEE(data) != crc {
			return lastSeq, errors.New("crc mismatch")
		}

		entry, err := decodeEntry(data)
		if err != nil {
			return lastSeq, fmt.Errorf("decode: %w", err)
		}

		if err := applyFn(entry); err != nil {
			return lastSeq, fmt.Errorf("apply: %w", err)
		}
		lastSeq = entry.Seq
	}

	w.seq = lastSeq
	return lastSeq, nil
}

// =============================================================================
// 引擎恢复
// =============================================================================

// Recover 从 WAL 重建账本状态
// 必须在 Start 之前调用；未启用 WAL 时直接返回。
func (e *VaultEngine) Recover() (uint64, error) {
	if e.wal == nil {
		return 0, nil
	}
	if e.running.Load() {
		return 0, errors.New("recover must run before engine start")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.wal.Recover(func(entry *WALEntry) error {
		switch entry.Type {
		case WALCreate:
			pos := &Position{
				PositionID:      entry.PositionID,
				Owner:           entry.Owner,
				Collateral:      entry.Collateral,
				PremiumReceived: entry.Premium,
				StrikePrice:     entry.Strike,
				Expiry:          entry.Expiry,
				IsCall:          entry.IsCall,
				IsLong:          entry.IsLong,
				IsActive:        true,
				AutoRoll:        entry.AutoRoll,
				CreatedAt:       entry.Timestamp,
			}
			e.positions = append(e.positions, pos)
			e.userIndex[pos.Owner] = append(e.userIndex[pos.Owner], pos.PositionID)
			e.totalPositionsCreated = pos.PositionID
			e.totalValueLocked += pos.Collateral
			e.collectedFees += entry.Fee

		case WALClose:
			pos := e.findPosition(entry.PositionID)
			if pos == nil || !pos.IsActive {
				return fmt.Errorf("close replay: position %d not open", entry.PositionID)
			}
			pos.IsActive = false
			pos.ClosedAt = entry.Timestamp
			e.totalValueLocked -= pos.Collateral

		case WALUpdateFee:
			e.platformFee = entry.Amount
		case WALUpdateMin:
			e.minCollateral = entry.Amount
		case WALPause:
			e.paused = true
		case WALUnpause:
			e.paused = false
		case WALWithdraw:
			e.collectedFees = 0

		default:
			return fmt.Errorf("unknown wal entry type %d", entry.Type)
		}
		return nil
	})
}
