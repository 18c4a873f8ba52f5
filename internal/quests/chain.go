package quests

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Node is one quest in the prerequisite chain. Condition is an optional
// expression over campaign state gating activation; an empty condition is
// always true.
type Node struct {
	QuestID        string   `json:"quest_id"`
	Condition      string   `json:"condition"`
	PredecessorIDs []string `json:"predecessor_ids"`
	SuccessorIDs   []string `json:"successor_ids"`

	compiledProgram *vm.Program
}

// Chain is a directed acyclic graph of quest prerequisites
type Chain struct {
	nodes map[string]*Node
	mu    sync.RWMutex
}

// NewChain creates an empty chain
func NewChain() *Chain {
	return &Chain{nodes: make(map[string]*Node)}
}

// AddNode adds a quest node, pre-compiling its condition
func (c *Chain) AddNode(node *Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nodes[node.QuestID]; exists {
		return fmt.Errorf("quest node %s already exists", node.QuestID)
	}

	if node.Condition != "" {
		program, err := expr.Compile(node.Condition)
		if err != nil {
			return fmt.Errorf("invalid condition for quest %s: %w", node.QuestID, err)
		}
		node.compiledProgram = program
	}

	c.nodes[node.QuestID] = node
	return nil
}

// AddEdge records that fromID must complete before toID can activate
func (c *Chain) AddEdge(fromID, toID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from, ok := c.nodes[fromID]
	if !ok {
		return fmt.Errorf("prerequisite quest %s not found", fromID)
	}
	to, ok := c.nodes[toID]
	if !ok {
		return fmt.Errorf("quest %s not found", toID)
	}

	from.SuccessorIDs = append(from.SuccessorIDs, toID)
	to.PredecessorIDs = append(to.PredecessorIDs, fromID)
	return nil
}

// Node returns a quest node by id
func (c *Chain) Node(questID string) *Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodes[questID]
}

// CheckCondition evaluates a quest's activation condition against state.
// Evaluation runs with a timeout so a pathological expression cannot stall
// the caller.
func (c *Chain) CheckCondition(questID string, state map[string]interface{}) (bool, error) {
	c.mu.RLock()
	node, ok := c.nodes[questID]
	c.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("quest node %s not found", questID)
	}
	if node.Condition == "" {
		return true, nil
	}

	if node.compiledProgram == nil {
		program, err := expr.Compile(node.Condition)
		if err != nil {
			return false, fmt.Errorf("invalid condition: %w", err)
		}
		node.compiledProgram = program
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	type evalResult struct {
		value interface{}
		err   error
	}
	resultCh := make(chan evalResult, 1)
	go func() {
		value, err := expr.Run(node.compiledProgram, state)
		resultCh <- evalResult{value, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return false, fmt.Errorf("condition evaluation failed: %w", res.err)
		}
		b, ok := res.value.(bool)
		if !ok {
			return false, fmt.Errorf("condition for quest %s is not boolean", questID)
		}
		return b, nil
	case <-ctx.Done():
		return false, fmt.Errorf("condition evaluation timed out")
	}
}

// Ready reports whether a quest's prerequisites are all completed and its
// condition holds
func (c *Chain) Ready(questID string, completed map[string]bool, state map[string]interface{}) (bool, error) {
	c.mu.RLock()
	node, ok := c.nodes[questID]
	c.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("quest node %s not found", questID)
	}

	for _, pre := range node.PredecessorIDs {
		if !completed[pre] {
			return false, nil
		}
	}
	return c.CheckCondition(questID, state)
}

// ReadyQuests returns all quests whose prerequisites are satisfied and
// conditions hold. Quests already completed are skipped.
func (c *Chain) ReadyQuests(completed map[string]bool, state map[string]interface{}) []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var ready []string
	for _, id := range ids {
		if completed[id] {
			continue
		}
		ok, err := c.Ready(id, completed, state)
		if err == nil && ok {
			ready = append(ready, id)
		}
	}
	return ready
}
