package topo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/ais-netlab/chaos/cmn/cos"
)

// FindLabDir walks labsDir for the single subdirectory whose name has
// labPrefix and matches currLab, using godirwalk instead of
// filepath.WalkDir for the fast, allocation-light directory scan the
// teacher's own dependency of the same name was picked for.
func FindLabDir(labsDir, labPrefix, currLab string) (string, error) {
	want := labPrefix + currLab
	var found string
	err := godirwalk.Walk(labsDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() && de.Name() == want {
				found = path
				return filepath.SkipDir
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return "", fmt.Errorf("topo: scanning %s: %w", labsDir, err)
	}
	if found == "" {
		return "", fmt.Errorf("topo: lab directory %q not found under %s", want, labsDir)
	}
	return found, nil
}

// LoadAS loads one AS's routers and links files, per the AS_config.txt
// row "(AS, routers-file, links-file)".
//
// Routers file rows: "name role ip" (role is "router" or "host").
// Links file rows: "host1 host2 bandwidth delay buffer" (bandwidth in
// mbit, delay in ms, buffer in ms); loss always defaults to 0 and burst
// is derived via cos.DefaultBurst.
func LoadAS(dir, routersFile, linksFile string) (*Model, error) {
	m := NewModel()
	if err := loadRouters(m, filepath.Join(dir, routersFile)); err != nil {
		return nil, err
	}
	if err := loadLinks(m, filepath.Join(dir, linksFile)); err != nil {
		return nil, err
	}
	return m, nil
}

func loadRouters(m *Model, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("topo: opening routers file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := splitFields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return fmt.Errorf("topo: malformed routers row %q", sc.Text())
		}
		role := Role(fields[1])
		if role != RoleRouter && role != RoleHost {
			return fmt.Errorf("topo: unknown role %q", fields[1])
		}
		m.AddNode(Node{Name: fields[0], Role: role, IP: fields[2]})
	}
	return sc.Err()
}

func loadLinks(m *Model, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("topo: opening links file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := splitFields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 {
			return fmt.Errorf("topo: malformed links row %q", sc.Text())
		}
		host1, host2, bwStr, delayStr, bufStr := fields[0], fields[1], fields[2], fields[3], fields[4]
		bwKbps, err := parseMbitField(bwStr)
		if err != nil {
			return fmt.Errorf("topo: bandwidth field %q: %w", bwStr, err)
		}
		delayMs, err := strconv.Atoi(strings.TrimSuffix(delayStr, "ms"))
		if err != nil {
			return fmt.Errorf("topo: delay field %q: %w", delayStr, err)
		}
		bufMs, err := strconv.Atoi(strings.TrimSuffix(bufStr, "ms"))
		if err != nil {
			return fmt.Errorf("topo: buffer field %q: %w", bufStr, err)
		}
		baseline := ShapingTuple{
			Loss:      "0%",
			Delay:     cos.FormatMillis(delayMs),
			Bandwidth: cos.FormatMbit(bwKbps),
			Burst:     cos.FormatBits(cos.DefaultBurst(bwKbps)),
			Buffer:    cos.FormatMillis(bufMs),
		}
		m.AddUndirectedLink(host1, host2, baseline)
	}
	return sc.Err()
}

func parseMbitField(s string) (int, error) {
	s = strings.TrimSuffix(s, "mbit")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(v * 1000), nil
}

func splitFields(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	return strings.Fields(line)
}

// ASEntry is one row of AS_config.txt.
type ASEntry struct {
	AS          string
	RoutersFile string
	LinksFile   string
}

// LoadASConfig parses AS_config.txt rows: "AS routers-file links-file".
func LoadASConfig(path string) ([]ASEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("topo: opening AS_config: %w", err)
	}
	defer f.Close()

	var out []ASEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := splitFields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("topo: malformed AS_config row %q", sc.Text())
		}
		out = append(out, ASEntry{AS: fields[0], RoutersFile: fields[1], LinksFile: fields[2]})
	}
	return out, sc.Err()
}

// LoadLab loads every AS listed in labDir/AS_config.txt and merges them
// into a single Model.
func LoadLab(labDir string) (*Model, error) {
	entries, err := LoadASConfig(filepath.Join(labDir, "AS_config.txt"))
	if err != nil {
		return nil, err
	}
	merged := NewModel()
	for _, e := range entries {
		sub, err := LoadAS(labDir, e.RoutersFile, e.LinksFile)
		if err != nil {
			return nil, fmt.Errorf("topo: loading AS %s: %w", e.AS, err)
		}
		for _, n := range sub.AllNodes() {
			merged.AddNode(n)
		}
		for pair, ids := range sub.byPair {
			parts := strings.SplitN(pair, "\x00", 2)
			fwd := sub.links[ids[0]]
			merged.AddUndirectedLink(parts[0], parts[1], fwd.Baseline)
		}
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}
