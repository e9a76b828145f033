package profile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
)

var fastaExtensions = map[string]bool{".fasta": true, ".fa": true, ".fas": true, ".fna": true}

// Alphabet checks belong to the identity strategy, which reports bad alleles
// per locus instead of failing the whole file.
func init() {
	seq.ValidateSeq = false
}

// ReadTable parses a profile table: a header row whose first column is
// ignored and whose remaining columns name the loci, then one row per
// sample. comma is '\t' for TSV and ',' for CSV.
func ReadTable(r io.Reader, comma rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty profile table", ErrEmpty)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: header needs a sample column and at least one locus", ErrShape)
	}
	t, err := NewTable(append([]string(nil), header[1:]...))
	if err != nil {
		return nil, err
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
				return nil, fmt.Errorf("%w: line %d", ErrShape, perr.Line)
			}
			return nil, err
		}
		if err := t.AddSample(rec[0], rec[1:]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReadTableFile picks the delimiter from the extension: .csv is comma
// separated, everything else tab separated.
func ReadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	comma := '\t'
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		comma = ','
	}
	t, err := ReadTable(f, comma)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadFasta adds every record of a FASTA file to locus.
func (s *Schema) ReadFasta(path, locus string) error {
	reader, err := fastx.NewReader(nil, path, "")
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer reader.Close()

	for {
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := s.Add(locus, string(record.ID), string(record.Seq.Seq)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// ReadSchemaDir loads one locus per FASTA file, named after the file stem.
func ReadSchemaDir(dir string) (*Schema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && fastaExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no FASTA files in %s", ErrEmpty, dir)
	}
	sort.Strings(files)

	s := NewSchema()
	for _, name := range files {
		locus := strings.TrimSuffix(name, filepath.Ext(name))
		if err := s.ReadFasta(filepath.Join(dir, name), locus); err != nil {
			return nil, err
		}
	}
	return s, nil
}
