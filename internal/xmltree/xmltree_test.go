package xmltree

import "testing"

func TestParseTextAndTail(t *testing.T) {
	doc := []byte(`<Root>  <A>hello</A>  <B/>  </Root>`)
	root, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if root.Name != "Root" {
		t.Fatalf("root name = %q", root.Name)
	}
	if len(root.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(root.Children))
	}
	a, b := root.Children[0], root.Children[1]
	if a.Text != "hello" {
		t.Fatalf("A.Text = %q", a.Text)
	}
	if a.Tail != "  " {
		t.Fatalf("A.Tail = %q, want two spaces", a.Tail)
	}
	if b.Tail != "  " {
		t.Fatalf("B.Tail = %q, want two spaces", b.Tail)
	}
	if root.Text != "  " {
		t.Fatalf("Root.Text = %q, want two leading spaces", root.Text)
	}
}

func TestSerializeSelfClosesEmptyLeaf(t *testing.T) {
	el := &Element{Name: "Code"}
	if got, want := string(Serialize(el)), "<Code />"; got != want {
		t.Fatalf("Serialize = %q, want %q", got, want)
	}
}

func TestSerializeEscapesEntities(t *testing.T) {
	el := &Element{Name: "Customer", Text: "Smith & Sons <Ltd>"}
	got := string(Serialize(el))
	want := "<Customer>Smith &amp; Sons &lt;Ltd&gt;</Customer>"
	if got != want {
		t.Fatalf("Serialize = %q, want %q", got, want)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	root := &Element{Name: "Root", Children: []*Element{{Name: "Code", Text: "abc"}}}
	clone := root.Clone()
	clone.Children[0].Text = ""
	if root.Children[0].Text != "abc" {
		t.Fatal("mutating clone affected original")
	}
}

func TestSetChildTextCreatesMissingChild(t *testing.T) {
	root := &Element{Name: "Root"}
	root.SetChildText("Code", "xyz")
	if got := root.ChildText("Code"); got != "xyz" {
		t.Fatalf("ChildText = %q", got)
	}
}
