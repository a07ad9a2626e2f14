package services

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Node is a generic XML element. Feed schemas drift between publications, so
// fields are looked up by name at read time instead of being bound to structs.
type Node struct {
	Name     string
	Attrs    map[string]string
	Content  string // concatenated character data directly inside the element
	Children []*Node
}

// ParseFeed parses a raw feed document and returns its root element.
// Documents declaring a non-UTF-8 encoding (e.g. Big5) are transcoded.
func ParseFeed(raw []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel

	var root *Node
	var stack []*Node

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				n.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.Attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Content += string(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("document has no root element")
	}
	return root, nil
}

// Child returns the first direct child with the given name, or nil
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child with the given name
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Text returns the trimmed text of the first child named key. Missing
// children yield "". Attributes on the child do not affect the result.
func (n *Node) Text(key string) string {
	c := n.Child(key)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Content)
}

// FirstText probes keys in order and returns the first non-empty text
func (n *Node) FirstText(keys ...string) string {
	for _, key := range keys {
		if v := n.Text(key); v != "" {
			return v
		}
	}
	return ""
}

// Attr returns the trimmed value of an attribute, or ""
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Attrs[name])
}

// listUnder returns the item children of root when root is one of the
// accepted container names, checked in order. Anything else yields an empty list.
func listUnder(root *Node, item string, containers ...string) []*Node {
	if root == nil {
		return nil
	}
	for _, c := range containers {
		if root.Name == c {
			return root.ChildrenNamed(item)
		}
	}
	return nil
}

// VenueNodes returns the <venue> elements of a venues feed
func VenueNodes(root *Node) []*Node {
	return listUnder(root, "venue", "venues")
}

// EventNodes returns the <event> elements of an events feed
func EventNodes(root *Node) []*Node {
	return listUnder(root, "event", "events")
}

// EventDateNodes returns the <event> elements of an event-dates feed, whose
// root has been published as both <event_dates> and <events>
func EventDateNodes(root *Node) []*Node {
	return listUnder(root, "event", "event_dates", "events")
}
