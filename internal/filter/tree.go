package filter

import (
	"strings"
)

// TopicTree is a prefix tree of subscriptions keyed by topic segment.
// It is not safe for concurrent use; Filter guards it.
type TopicTree struct {
	root *topicNode
}

type topicNode struct {
	children map[string]*topicNode
	sub      *Subscription
}

func newTopicNode() *topicNode {
	return &topicNode{children: make(map[string]*topicNode)}
}

// NewTopicTree returns an empty tree.
func NewTopicTree() *TopicTree {
	return &TopicTree{root: newTopicNode()}
}

// Insert stores sub under its topic, replacing any previous entry.
func (t *TopicTree) Insert(sub *Subscription) {
	current := t.root
	for _, segment := range strings.Split(sub.Topic, "/") {
		next, ok := current.children[segment]
		if !ok {
			next = newTopicNode()
			current.children[segment] = next
		}
		current = next
	}
	current.sub = sub
}

// Delete removes the subscription stored under topic and prunes empty
// branches. It reports whether anything was removed.
func (t *TopicTree) Delete(topic string) bool {
	return t.delete(t.root, strings.Split(topic, "/"), 0)
}

func (t *TopicTree) delete(node *topicNode, segments []string, depth int) bool {
	child, ok := node.children[segments[depth]]
	if !ok {
		return false
	}

	var removed bool
	if depth == len(segments)-1 {
		removed = child.sub != nil
		child.sub = nil
	} else {
		removed = t.delete(child, segments, depth+1)
	}

	if child.sub == nil && len(child.children) == 0 {
		delete(node.children, segments[depth])
	}
	return removed
}

// Match returns every stored subscription whose pattern matches topic.
func (t *TopicTree) Match(topic string) []*Subscription {
	if topic == "" {
		return nil
	}
	segments := strings.Split(topic, "/")
	var matches []*Subscription
	t.match(t.root, segments, 0, isSystemTopic(topic), &matches)
	return matches
}

func (t *TopicTree) match(node *topicNode, segments []string, depth int, system bool, matches *[]*Subscription) {
	wildcardsAllowed := depth > 0 || !system

	// # covers the remaining levels, including none at all.
	if wildcardsAllowed {
		if child, ok := node.children["#"]; ok && child.sub != nil {
			*matches = append(*matches, child.sub)
		}
	}

	if depth == len(segments) {
		if node.sub != nil {
			*matches = append(*matches, node.sub)
		}
		return
	}

	segment := segments[depth]
	if segment != "#" && segment != "+" {
		if child, ok := node.children[segment]; ok {
			t.match(child, segments, depth+1, system, matches)
		}
	}
	if wildcardsAllowed {
		if child, ok := node.children["+"]; ok {
			t.match(child, segments, depth+1, system, matches)
		}
	}
}
