// Package dataset loads choice and fixation records from CSV files into
// ddm trials.
//
// The behavioural file has one row per trial:
//
//	parcode,trial,rt,choice,dist_left,dist_right
//
// where the item value is derived from the stimulus distance as
// |(|dist| - 15) / 5|. Files written by Write carry value_left and
// value_right columns instead, which are used as-is.
//
// The fixation file has one row per fixation, in temporal order:
//
//	parcode,trial,fix_item,fix_time
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/ddmfit/internal/ddm"
)

// ErrMalformed is returned for any structural or value error in the input.
var ErrMalformed = errors.New("malformed dataset")

// ItemValue converts a stimulus distance to an item value.
func ItemValue(dist float64) float64 {
	return math.Abs((math.Abs(dist) - 15) / 5)
}

// ValueDiff returns the left-minus-right value difference of a trial,
// rounded to the nearest integer.
func ValueDiff(t ddm.Trial) int {
	return int(math.Round(t.ValueLeft - t.ValueRight))
}

type key struct {
	subject string
	trial   int
}

// Load reads the behavioural and fixation files at the given paths.
func Load(expPath, fixPath string) ([]ddm.Trial, error) {
	exp, err := os.Open(expPath)
	if err != nil {
		return nil, fmt.Errorf("open trial data: %w", err)
	}
	defer exp.Close()

	fix, err := os.Open(fixPath)
	if err != nil {
		return nil, fmt.Errorf("open fixation data: %w", err)
	}
	defer fix.Close()

	trials, err := Read(exp, fix)
	if err != nil {
		return nil, fmt.Errorf("%s, %s: %w", expPath, fixPath, err)
	}
	return trials, nil
}

// Read parses behavioural and fixation CSV streams. Every trial must have at
// least one fixation row and every fixation row must belong to a trial. The
// result is sorted by subject, then trial ID.
func Read(expR, fixR io.Reader) ([]ddm.Trial, error) {
	trials, order, err := readTrials(expR)
	if err != nil {
		return nil, err
	}
	if err := readFixations(fixR, trials); err != nil {
		return nil, err
	}

	out := make([]ddm.Trial, 0, len(order))
	for _, k := range order {
		t := trials[k]
		if len(t.Fixations) == 0 {
			return nil, fmt.Errorf("%w: subject %s trial %d has no fixations", ErrMalformed, k.subject, k.trial)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		out = append(out, *t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// columns maps lower-cased header names to their index.
type columns map[string]int

func readHeader(r *csv.Reader, what string) (columns, error) {
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty %s file", ErrMalformed, what)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s header: %v", ErrMalformed, what, err)
	}
	cols := make(columns, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols, nil
}

func (c columns) require(what string, names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := c[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s file missing columns %s", ErrMalformed, what, strings.Join(missing, ", "))
	}
	return nil
}

func (c columns) has(names ...string) bool {
	for _, n := range names {
		if _, ok := c[n]; !ok {
			return false
		}
	}
	return true
}

func field(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseInt(record []string, idx int, name string, line int) (int, error) {
	s := field(record, idx)
	v, err := strconv.Atoi(s)
	if err != nil {
		// Integers are sometimes exported as "12.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, fmt.Errorf("%w: line %d: invalid %s %q", ErrMalformed, line, name, s)
		}
		v = int(f)
	}
	return v, nil
}

func parseFloat(record []string, idx int, name string, line int) (float64, error) {
	s := field(record, idx)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: line %d: invalid %s %q", ErrMalformed, line, name, s)
	}
	return v, nil
}

// parseDuration parses a millisecond count, rounding fractional values.
func parseDuration(record []string, idx int, name string, line int) (int, error) {
	v, err := parseFloat(record, idx, name, line)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: line %d: negative %s %v", ErrMalformed, line, name, v)
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: line %d: %s %v out of range", ErrMalformed, line, name, v)
	}
	return int(math.Round(v)), nil
}

func readTrials(r io.Reader) (map[key]*ddm.Trial, []key, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cols, err := readHeader(cr, "trial")
	if err != nil {
		return nil, nil, err
	}
	if err := cols.require("trial", "parcode", "trial", "rt", "choice"); err != nil {
		return nil, nil, err
	}
	useValues := cols.has("value_left", "value_right")
	if !useValues {
		if err := cols.require("trial", "dist_left", "dist_right"); err != nil {
			return nil, nil, err
		}
	}

	trials := make(map[key]*ddm.Trial)
	var order []key
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}

		subject := field(record, cols["parcode"])
		if subject == "" {
			return nil, nil, fmt.Errorf("%w: line %d: empty parcode", ErrMalformed, line)
		}
		id, err := parseInt(record, cols["trial"], "trial", line)
		if err != nil {
			return nil, nil, err
		}
		rt, err := parseDuration(record, cols["rt"], "rt", line)
		if err != nil {
			return nil, nil, err
		}
		choice, err := parseInt(record, cols["choice"], "choice", line)
		if err != nil {
			return nil, nil, err
		}
		if !ddm.Choice(choice).Valid() {
			return nil, nil, fmt.Errorf("%w: line %d: choice %d not in {-1, 1}", ErrMalformed, line, choice)
		}

		var vl, vr float64
		if useValues {
			if vl, err = parseFloat(record, cols["value_left"], "value_left", line); err != nil {
				return nil, nil, err
			}
			if vr, err = parseFloat(record, cols["value_right"], "value_right", line); err != nil {
				return nil, nil, err
			}
		} else {
			dl, err := parseFloat(record, cols["dist_left"], "dist_left", line)
			if err != nil {
				return nil, nil, err
			}
			dr, err := parseFloat(record, cols["dist_right"], "dist_right", line)
			if err != nil {
				return nil, nil, err
			}
			vl, vr = ItemValue(dl), ItemValue(dr)
		}

		k := key{subject: subject, trial: id}
		if _, dup := trials[k]; dup {
			return nil, nil, fmt.Errorf("%w: line %d: duplicate subject %s trial %d", ErrMalformed, line, subject, id)
		}
		trials[k] = &ddm.Trial{
			Subject:    subject,
			ID:         id,
			RT:         rt,
			Choice:     ddm.Choice(choice),
			ValueLeft:  vl,
			ValueRight: vr,
		}
		order = append(order, k)
	}
	if len(order) == 0 {
		return nil, nil, fmt.Errorf("%w: no trials", ErrMalformed)
	}
	return trials, order, nil
}

func readFixations(r io.Reader, trials map[key]*ddm.Trial) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cols, err := readHeader(cr, "fixation")
	if err != nil {
		return err
	}
	if err := cols.require("fixation", "parcode", "trial", "fix_item", "fix_time"); err != nil {
		return err
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}

		subject := field(record, cols["parcode"])
		id, err := parseInt(record, cols["trial"], "trial", line)
		if err != nil {
			return err
		}
		code, err := parseInt(record, cols["fix_item"], "fix_item", line)
		if err != nil {
			return err
		}
		dur, err := parseDuration(record, cols["fix_time"], "fix_time", line)
		if err != nil {
			return err
		}

		t, ok := trials[key{subject: subject, trial: id}]
		if !ok {
			return fmt.Errorf("%w: line %d: fixation for unknown subject %s trial %d", ErrMalformed, line, subject, id)
		}
		t.Fixations = append(t.Fixations, ddm.Fixation{Item: ddm.ItemFromCode(code), Duration: dur})
	}
}

// Write emits trials in the two-file layout accepted by Read, using
// value_left and value_right columns.
func Write(expW, fixW io.Writer, trials []ddm.Trial) error {
	ew := csv.NewWriter(expW)
	fw := csv.NewWriter(fixW)

	if err := ew.Write([]string{"parcode", "trial", "rt", "choice", "value_left", "value_right"}); err != nil {
		return err
	}
	if err := fw.Write([]string{"parcode", "trial", "fix_item", "fix_time"}); err != nil {
		return err
	}
	for _, t := range trials {
		row := []string{
			t.Subject,
			strconv.Itoa(t.ID),
			strconv.Itoa(t.RT),
			strconv.Itoa(int(t.Choice)),
			strconv.FormatFloat(t.ValueLeft, 'g', -1, 64),
			strconv.FormatFloat(t.ValueRight, 'g', -1, 64),
		}
		if err := ew.Write(row); err != nil {
			return err
		}
		for _, f := range t.Fixations {
			if err := fw.Write([]string{t.Subject, strconv.Itoa(t.ID), strconv.Itoa(int(f.Item)), strconv.Itoa(f.Duration)}); err != nil {
				return err
			}
		}
	}
	ew.Flush()
	fw.Flush()
	if err := ew.Error(); err != nil {
		return err
	}
	return fw.Error()
}
