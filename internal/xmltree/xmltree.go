// Package xmltree is a minimal ElementTree-style document model: ordered
// children, and Python ElementTree's text/tail split (text is character
// data immediately inside an element before its first child; tail is
// character data that follows an element's own closing tag, attached to
// that element). The signature canonicalisation in package licence depends
// on this exact model — encoding/xml's own Decoder does not expose tails,
// and its Marshal does not reproduce ElementTree's serialisation rules.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Element is one node of a parsed document.
type Element struct {
	Name     string
	Text     string
	Tail     string
	Children []*Element
}

// Parse builds an Element tree from a full XML document.
func Parse(data []byte) (*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *Element
	var stack []*Element

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else {
				root = el
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse xml: unbalanced end element %s", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			cur := stack[len(stack)-1]
			chars := string(t)
			if len(cur.Children) == 0 {
				cur.Text += chars
			} else {
				last := cur.Children[len(cur.Children)-1]
				last.Tail += chars
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("parse xml: no root element")
	}
	return root, nil
}

// Child returns the first direct child named name, or nil.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildText returns the text of the first direct child named name, or "".
func (e *Element) ChildText(name string) string {
	if c := e.Child(name); c != nil {
		return c.Text
	}
	return ""
}

// SetChildText sets the text of the first direct child named name, creating
// it (appended as the last child) if absent.
func (e *Element) SetChildText(name, text string) {
	if c := e.Child(name); c != nil {
		c.Text = text
		return
	}
	e.Children = append(e.Children, &Element{Name: name, Text: text})
}

// Clone deep-copies the subtree rooted at e, so canonicalisation never
// mutates caller-visible state.
func (e *Element) Clone() *Element {
	clone := &Element{Name: e.Name, Text: e.Text, Tail: e.Tail}
	for _, c := range e.Children {
		clone.Children = append(clone.Children, c.Clone())
	}
	return clone
}

// Serialize renders the tree the way Python's xml.etree.ElementTree.tostring
// does with xml_declaration=False and short_empty_elements=True: an element
// with no text and no children is self-closed; entities &, < and > are
// escaped in text and tail content.
func Serialize(e *Element) []byte {
	var buf bytes.Buffer
	serialize(&buf, e)
	return buf.Bytes()
}

func serialize(buf *bytes.Buffer, e *Element) {
	buf.WriteString("<")
	buf.WriteString(e.Name)
	if e.Text != "" || len(e.Children) > 0 {
		buf.WriteString(">")
		if e.Text != "" {
			escapeCharData(buf, e.Text)
		}
		for _, c := range e.Children {
			serialize(buf, c)
		}
		buf.WriteString("</")
		buf.WriteString(e.Name)
		buf.WriteString(">")
	} else {
		buf.WriteString(" />")
	}
	if e.Tail != "" {
		escapeCharData(buf, e.Tail)
	}
}

func escapeCharData(buf *bytes.Buffer, s string) {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	buf.WriteString(s)
}
