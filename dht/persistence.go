package dht

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/sirupsen/logrus"
)

// Address family tags used in the persisted record format.
const (
	familyIPv4 byte = 4
	familyIPv6 byte = 6
)

var (
	// ErrUnsupportedAddress is returned when encoding a node whose address
	// is neither IPv4 nor IPv6.
	ErrUnsupportedAddress = errors.New("unsupported address family")
	// ErrCorrupt wraps every condition that ends a decode early.
	ErrCorrupt = errors.New("corrupt routing table data")
	// ErrUnknownFamily is returned for an address family tag other than 4 or 6.
	ErrUnknownFamily = fmt.Errorf("%w: unknown address family", ErrCorrupt)
	// ErrTruncatedRecord is returned when the stream ends inside a record.
	ErrTruncatedRecord = fmt.Errorf("%w: truncated record", ErrCorrupt)
)

// Encoder writes node records to a byte stream. Each record is the 20-byte
// ID, a one-byte family tag (4 or 6), the 4 or 16 address bytes and a
// big-endian uint16 port. Records are concatenated with no header or count.
type Encoder struct {
	w   *bufio.Writer
	buf []byte
}

// NewEncoder returns an encoder writing to w. Call Flush when done.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   bufio.NewWriter(w),
		buf: make([]byte, 0, IDLength+1+16+2),
	}
}

// Encode writes one record. It returns ErrUnsupportedAddress, writing
// nothing, if the node's address is neither IPv4 nor IPv6.
func (e *Encoder) Encode(n Node) error {
	rec, err := AppendNode(e.buf[:0], n)
	if err != nil {
		return err
	}
	_, err = e.w.Write(rec)
	return err
}

// Flush writes buffered data to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// AppendNode appends the encoded record for n to dst.
func AppendNode(dst []byte, n Node) ([]byte, error) {
	addr := n.Addr.Addr()
	dst = append(dst, n.ID[:]...)
	switch n.Family() {
	case familyIPv4:
		a4 := addr.As4()
		dst = append(dst, familyIPv4)
		dst = append(dst, a4[:]...)
	case familyIPv6:
		a16 := addr.As16()
		dst = append(dst, familyIPv6)
		dst = append(dst, a16[:]...)
	default:
		return dst[:len(dst)-IDLength], fmt.Errorf("%w: node %s", ErrUnsupportedAddress, n.ID.Short())
	}
	return binary.BigEndian.AppendUint16(dst, n.Addr.Port()), nil
}

// Decoder reads node records from a byte stream.
type Decoder struct {
	r  *bufio.Reader
	tp TimeProvider
}

// NewDecoder returns a decoder reading from r. Decoded nodes have LastSeen
// set to the decode time, since the format does not carry timestamps.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next record. It returns io.EOF at a clean end of stream,
// ErrTruncatedRecord if the stream ends inside a record, and ErrUnknownFamily
// for a bad family tag. Nothing past a corrupt record can be trusted.
func (d *Decoder) Decode() (Node, error) {
	var head [IDLength + 1]byte
	if n, err := io.ReadFull(d.r, head[:]); err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Node{}, io.EOF
		}
		return Node{}, d.readErr(err)
	}

	var id NodeID
	copy(id[:], head[:IDLength])

	var addr netip.Addr
	switch head[IDLength] {
	case familyIPv4:
		var a4 [4]byte
		if _, err := io.ReadFull(d.r, a4[:]); err != nil {
			return Node{}, d.readErr(err)
		}
		addr = netip.AddrFrom4(a4)
	case familyIPv6:
		var a16 [16]byte
		if _, err := io.ReadFull(d.r, a16[:]); err != nil {
			return Node{}, d.readErr(err)
		}
		addr = netip.AddrFrom16(a16)
	default:
		return Node{}, fmt.Errorf("%w: tag %d", ErrUnknownFamily, head[IDLength])
	}

	var port [2]byte
	if _, err := io.ReadFull(d.r, port[:]); err != nil {
		return Node{}, d.readErr(err)
	}

	return Node{
		ID:       id,
		Addr:     netip.AddrPortFrom(addr, binary.BigEndian.Uint16(port[:])),
		LastSeen: getTimeProvider(d.tp).Now(),
	}, nil
}

func (d *Decoder) readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedRecord
	}
	return err
}

// WriteNodes encodes nodes to w, skipping nodes with unsupported addresses.
// It returns the number of records written.
func WriteNodes(w io.Writer, nodes []Node) (int, error) {
	enc := NewEncoder(w)
	written := 0
	for _, n := range nodes {
		if err := enc.Encode(n); err != nil {
			if errors.Is(err, ErrUnsupportedAddress) {
				logrus.WithFields(logrus.Fields{
					"function": "WriteNodes",
					"node":     n.String(),
				}).Warn("Skipping node with unsupported address")
				continue
			}
			return written, err
		}
		written++
	}
	return written, enc.Flush()
}

// ReadNodes decodes records from r until end of stream. On corruption it
// returns the records decoded so far together with an error wrapping
// ErrCorrupt; the prefix is always valid.
func ReadNodes(r io.Reader) ([]Node, error) {
	return readNodes(NewDecoder(r))
}

func readNodes(dec *Decoder) ([]Node, error) {
	var nodes []Node
	for {
		n, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nodes, nil
		}
		if err != nil {
			return nodes, err
		}
		nodes = append(nodes, n)
	}
}

// Store persists a routing table snapshot to a single file.
//
// Example usage:
//
//	store := dht.NewStore("/var/lib/mycelium/routing.dat")
//	table := dht.NewRoutingTable(self, dht.DefaultK)
//	if _, err := store.LoadInto(table); err != nil {
//	    log.Fatal(err)
//	}
//	defer store.SaveTable(table)
type Store struct {
	path         string
	logger       *logrus.Logger
	timeProvider TimeProvider
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return NewStoreWithTimeProvider(path, nil)
}

// NewStoreWithTimeProvider returns a store whose loaded nodes take their
// LastSeen from tp. Pass nil to use the package default.
func NewStoreWithTimeProvider(path string, tp TimeProvider) *Store {
	return &Store{
		path:         path,
		logger:       logrus.StandardLogger(),
		timeProvider: tp,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes nodes to the backing file, replacing it atomically. An empty
// snapshot removes the file instead, so an absent file and an empty table
// mean the same thing. Nodes with unsupported addresses are skipped.
func (s *Store) Save(nodes []Node) error {
	if len(nodes) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove routing table file: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"function": "Save",
			"path":     s.path,
		}).Info("Routing table is empty, nothing to save")
		return nil
	}

	var buf bytes.Buffer
	written, err := WriteNodes(&buf, nodes)
	if err != nil {
		return fmt.Errorf("failed to encode routing table: %w", err)
	}
	if written == 0 {
		return s.Save(nil)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temporary routing table file: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename routing table file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"function": "Save",
		"path":     s.path,
		"saved":    written,
		"skipped":  len(nodes) - written,
	}).Info("Saved routing table")
	return nil
}

// Load reads the backing file. A missing or empty file yields no nodes and
// no error. Corruption is logged and the valid prefix is returned; only I/O
// failures are reported as errors.
func (s *Store) Load() ([]Node, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.WithFields(logrus.Fields{
				"function": "Load",
				"path":     s.path,
			}).Info("No routing table file found, starting fresh")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open routing table file: %w", err)
	}
	defer f.Close()

	dec := NewDecoder(f)
	dec.tp = s.timeProvider
	nodes, err := readNodes(dec)
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return nil, fmt.Errorf("failed to read routing table file: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"function": "Load",
			"path":     s.path,
			"loaded":   len(nodes),
			"error":    err.Error(),
		}).Warn("Routing table file is corrupt, keeping valid records")
	}

	s.logger.WithFields(logrus.Fields{
		"function": "Load",
		"path":     s.path,
		"loaded":   len(nodes),
	}).Info("Loaded routing table")
	return nodes, nil
}

// SaveTable saves a snapshot of rt.
func (s *Store) SaveTable(rt *RoutingTable) error {
	return s.Save(rt.AllNodes())
}

// LoadInto loads the backing file and seeds rt with it through AddNode.
// It returns the number of nodes the table accepted.
func (s *Store) LoadInto(rt *RoutingTable) (int, error) {
	nodes, err := s.Load()
	if err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, nil
	}
	return rt.Seed(nodes), nil
}
