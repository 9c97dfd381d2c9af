// kge-rank scores knowledge-graph triples with a configurable embedding model.
//
// Triples are read from a file (or stdin) with one "head relation tail" index triple per
// line. By default every triple is scored exactly; with -rank_tails every entity is scored
// as a candidate tail instead, and the top candidates are printed per (head, relation)
// pair.
//
// Example:
//
//	kge-rank -model "transe,num_entities=100,num_relations=7,dim=32" -triples triples.tsv
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/janpfeifer/kge/models"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagModel = flag.String("model", "",
		"Model configuration string, e.g. \"distmult,num_entities=100,num_relations=7,dim=32\".")
	flagTriples = flag.String("triples", "",
		"File with one \"head relation tail\" index triple per line, \"-\" for stdin.")
	flagRankTails = flag.Bool("rank_tails", false,
		"Rank all entities as tail candidates instead of scoring the given tails.")
	flagTopK = flag.Int("top_k", 10, "Number of candidates to print with -rank_tails.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagModel == "" || *flagTriples == "" {
		klog.Exit("Both -model and -triples must be set, see -help.")
	}

	model := must.M1(models.FromConfigString(*flagModel))
	heads, relations, tails, err := readTriples(*flagTriples)
	if err != nil {
		klog.Exitf("Failed to read triples from %q: %v", *flagTriples, err)
	}
	klog.V(1).Infof("Scoring %d triples with %d entities and %d relations",
		len(heads), model.NumEntities(), model.NumRelations())

	if *flagRankTails {
		rankTails(model, heads, relations)
		return
	}
	scores := must.M1(model.ScoreHRT(heads, relations, tails))
	for ii, score := range scores {
		fmt.Printf("(%d, %d, %d)\t%.6f\n", heads[ii], relations[ii], tails[ii], score)
	}
}

func rankTails(model *models.Model, heads, relations []int32) {
	scores := must.M1(model.ScoreTails(heads, relations))
	for ii, candidates := range scores {
		order := make([]int, len(candidates))
		for jj := range order {
			order[jj] = jj
		}
		sort.Slice(order, func(a, b int) bool {
			return candidates[order[a]] > candidates[order[b]]
		})
		if len(order) > *flagTopK {
			order = order[:*flagTopK]
		}
		fmt.Printf("(%d, %d, ?):", heads[ii], relations[ii])
		for _, candidate := range order {
			fmt.Printf(" %d=%.4f", candidate, candidates[candidate])
		}
		fmt.Println()
	}
}

func readTriples(path string) (heads, relations, tails []int32, err error) {
	var reader io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, nil, err
		}
		defer func() { _ = f.Close() }()
		reader = f
	}
	scanner := bufio.NewScanner(reader)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, nil, nil, fmt.Errorf("line %d: expected 3 fields, got %d", lineNum, len(fields))
		}
		indices := make([]int32, 3)
		for ii, field := range fields {
			value, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			indices[ii] = int32(value)
		}
		heads = append(heads, indices[0])
		relations = append(relations, indices[1])
		tails = append(tails, indices[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, nil, err
	}
	return heads, relations, tails, nil
}
