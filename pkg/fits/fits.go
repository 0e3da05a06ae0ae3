// Package fits reads and writes the subset of FITS used for OPD maps and PSF
// products: 2-D images in the primary HDU and IMAGE extensions.
package fits

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	cardSize  = 80
	blockSize = 2880
)

// Card is one header record.
type Card struct {
	Key     string
	Value   string
	Comment string
	// Quoted marks character-string values.
	Quoted bool
}

// Header is an ordered list of cards. Values are stored already decoded:
// strings without quotes, logicals as "T"/"F".
type Header struct {
	Cards []Card
}

func (h *Header) index(key string) int {
	key = strings.ToUpper(key)
	for i, c := range h.Cards {
		if c.Key == key {
			return i
		}
	}
	return -1
}

// Set adds or replaces a card. Floats, ints, bools and strings are accepted.
func (h *Header) Set(key string, value interface{}, comment string) {
	v, quoted := formatValue(value)
	c := Card{Key: strings.ToUpper(key), Value: v, Comment: comment, Quoted: quoted}
	if i := h.index(key); i >= 0 {
		h.Cards[i] = c
		return
	}
	h.Cards = append(h.Cards, c)
}

func (h *Header) Get(key string) (string, bool) {
	if i := h.index(key); i >= 0 {
		return h.Cards[i].Value, true
	}
	return "", false
}

func (h *Header) String(key string) string {
	v, _ := h.Get(key)
	return v
}

func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	// FITS allows D exponents
	f, err := strconv.ParseFloat(strings.Replace(v, "D", "E", 1), 64)
	return f, err == nil
}

func (h *Header) Int(key string) (int, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	return i, err == nil
}

// HDU is an image header-data unit.
type HDU struct {
	Header Header
	Data   *mat.Dense
}

// Name returns EXTNAME, or PRIMARY for the first HDU without one.
func (h *HDU) Name() string {
	if n := h.Header.String("EXTNAME"); n != "" {
		return n
	}
	return "PRIMARY"
}

// ReadFile reads every image HDU of a FITS file.
func ReadFile(path string) ([]*HDU, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}

// Read decodes HDUs until the end of the stream.
func Read(r io.Reader) ([]*HDU, error) {
	var hdus []*HDU
	for {
		hdr, err := readHeader(r)
		if err == io.EOF && len(hdus) > 0 {
			return hdus, nil
		}
		if err != nil {
			return nil, err
		}
		hdu := &HDU{Header: *hdr}
		if err := readData(r, hdu); err != nil {
			return nil, fmt.Errorf("HDU %d: %w", len(hdus), err)
		}
		hdus = append(hdus, hdu)
	}
}

func readHeader(r io.Reader) (*Header, error) {
	hdr := &Header{}
	block := make([]byte, blockSize)
	for first := true; ; first = false {
		if _, err := io.ReadFull(r, block); err != nil {
			if first && (err == io.EOF || err == io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading FITS header block: %w", err)
		}
		for i := 0; i < blockSize/cardSize; i++ {
			record := string(block[i*cardSize : (i+1)*cardSize])
			key := strings.TrimSpace(record[:8])
			if key == "END" {
				return hdr, nil
			}
			if first && i == 0 && key != "SIMPLE" && key != "XTENSION" {
				if strings.TrimSpace(record) == "" {
					// trailing padding after the last HDU
					return nil, io.EOF
				}
				return nil, fmt.Errorf("not a FITS header: first card %q", key)
			}
			if key == "" || record[8:10] != "= " {
				continue
			}
			value, comment := splitValue(record[10:])
			quoted := strings.HasPrefix(strings.TrimSpace(record[10:]), "'")
			hdr.Cards = append(hdr.Cards, Card{Key: key, Value: value, Comment: comment, Quoted: quoted})
		}
	}
}

// splitValue separates the value field from its comment, honouring quotes.
func splitValue(field string) (value, comment string) {
	s := strings.TrimSpace(field)
	if strings.HasPrefix(s, "'") {
		var b strings.Builder
		i := 1
		for ; i < len(s); i++ {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					b.WriteByte('\'')
					i++
					continue
				}
				break
			}
			b.WriteByte(s[i])
		}
		rest := strings.TrimSpace(s[min(i+1, len(s)):])
		return strings.TrimRight(b.String(), " "), strings.TrimSpace(strings.TrimPrefix(rest, "/"))
	}
	if i := strings.Index(s, "/"); i >= 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func readData(r io.Reader, hdu *HDU) error {
	h := &hdu.Header
	bitpix, ok := h.Int("BITPIX")
	if !ok {
		return errors.New("missing BITPIX")
	}
	naxis, _ := h.Int("NAXIS")
	if naxis == 0 {
		return nil
	}
	n := 1
	dims := make([]int, naxis)
	for i := range dims {
		d, ok := h.Int(fmt.Sprintf("NAXIS%d", i+1))
		if !ok || d < 0 {
			return fmt.Errorf("bad NAXIS%d", i+1)
		}
		dims[i] = d
		n *= d
	}
	size := abs(bitpix) / 8
	raw := make([]byte, padded(n*size))
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("reading %d-bit pixel data: %w", bitpix, err)
	}
	if naxis != 2 || n == 0 {
		// only 2-D images carry data we use; the block has been consumed
		return nil
	}

	bzero, ok := h.Float("BZERO")
	if !ok {
		bzero = 0
	}
	bscale, ok := h.Float("BSCALE")
	if !ok {
		bscale = 1
	}
	out := make([]float64, n)
	for i := range out {
		var v float64
		b := raw[i*size:]
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(b)))
		case 64:
			v = float64(int64(binary.BigEndian.Uint64(b)))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(b))
		default:
			return fmt.Errorf("unsupported BITPIX: %d", bitpix)
		}
		out[i] = v*bscale + bzero
	}
	// NAXIS1 is the fast (column) axis
	hdu.Data = mat.NewDense(dims[1], dims[0], out)
	return nil
}

func padded(n int) int {
	return (n + blockSize - 1) / blockSize * blockSize
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// WriteFile writes hdus as 64-bit float images; the first is the primary HDU.
func WriteFile(path string, hdus []*HDU) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating FITS file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := Write(w, hdus); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes hdus.
func Write(w io.Writer, hdus []*HDU) error {
	if len(hdus) == 0 {
		return errors.New("no HDUs to write")
	}
	for i, hdu := range hdus {
		if err := writeHDU(w, hdu, i == 0, len(hdus) > 1); err != nil {
			return fmt.Errorf("HDU %d: %w", i, err)
		}
	}
	return nil
}

// structural keywords are generated from the data and never copied
var structural = map[string]bool{
	"SIMPLE": true, "XTENSION": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true,
	"NAXIS2": true, "EXTEND": true, "PCOUNT": true, "GCOUNT": true, "BZERO": true, "BSCALE": true, "END": true,
}

func writeHDU(w io.Writer, hdu *HDU, primary, extend bool) error {
	var rows, cols int
	if hdu.Data != nil {
		rows, cols = hdu.Data.Dims()
	}
	h := Header{}
	if primary {
		h.Set("SIMPLE", true, "conforms to FITS standard")
	} else {
		h.Set("XTENSION", "IMAGE", "image extension")
	}
	h.Set("BITPIX", -64, "IEEE double precision")
	if hdu.Data == nil {
		h.Set("NAXIS", 0, "")
	} else {
		h.Set("NAXIS", 2, "")
		h.Set("NAXIS1", cols, "")
		h.Set("NAXIS2", rows, "")
	}
	if primary && extend {
		h.Set("EXTEND", true, "extensions may be present")
	}
	if !primary {
		h.Set("PCOUNT", 0, "")
		h.Set("GCOUNT", 1, "")
	}
	for _, c := range hdu.Header.Cards {
		if !structural[c.Key] {
			h.Cards = append(h.Cards, c)
		}
	}

	var buf strings.Builder
	for _, c := range h.Cards {
		buf.WriteString(formatCard(c))
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	head := buf.String()
	head += strings.Repeat(" ", padded(len(head))-len(head))
	if _, err := io.WriteString(w, head); err != nil {
		return err
	}
	if hdu.Data == nil {
		return nil
	}

	data := make([]byte, padded(rows*cols*8))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.BigEndian.PutUint64(data[(i*cols+j)*8:], math.Float64bits(hdu.Data.At(i, j)))
		}
	}
	_, err := w.Write(data)
	return err
}

func formatValue(v interface{}) (string, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return "T", false
		}
		return "F", false
	case int:
		return strconv.Itoa(x), false
	case int64:
		return strconv.FormatInt(x, 10), false
	case uint64:
		return strconv.FormatUint(x, 10), false
	case float64:
		return strconv.FormatFloat(x, 'G', -1, 64), false
	case float32:
		return strconv.FormatFloat(float64(x), 'G', -1, 32), false
	default:
		return fmt.Sprint(x), true
	}
}

func formatCard(c Card) string {
	var value string
	if c.Quoted {
		s := strings.ReplaceAll(c.Value, "'", "''")
		value = fmt.Sprintf("%-20s", fmt.Sprintf("'%-8s'", s))
	} else {
		value = fmt.Sprintf("%20s", c.Value)
	}
	card := fmt.Sprintf("%-8s= %s", c.Key, value)
	if c.Comment != "" {
		card += " / " + c.Comment
	}
	if len(card) > cardSize {
		card = card[:cardSize]
	}
	return fmt.Sprintf("%-80s", card)
}
