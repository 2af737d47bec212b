package errorfix

import (
	"reflect"
	"testing"
)

func TestExtractDeduplicatesInOrder(t *testing.T) {
	input := `<div class="erro"><p>Falha: código de barras '111' inválido.</p>` +
		`<p>Falha: código de barras '222' inválido.</p>` +
		`<p>Falha: código de barras '111' inválido.</p></div>`

	got := Extract(input)
	want := []string{"111", "222"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExtractDecodesEntitiesAndMarkup(t *testing.T) {
	input := `C&oacute;digo de barras &#39;<b>7891234</b>&#39; duplicado`

	got := Extract(input)
	if len(got) != 1 || got[0] != "7891234" {
		t.Fatalf("expected [7891234], got %v", got)
	}
}

func TestExtractNormalizesDecomposedAccent(t *testing.T) {
	input := "codigo de barras '1' e co\u0301digo de barras '2'"

	got := Extract(input)
	if len(got) != 1 || got[0] != "2" {
		t.Fatalf("expected only the accented phrase to match, got %v", got)
	}
}

func TestExtractNoMatches(t *testing.T) {
	if got := Extract("<p>tudo certo</p>"); len(got) != 0 {
		t.Fatalf("expected no barcodes, got %v", got)
	}
}

func TestTextSkipsScripts(t *testing.T) {
	got := Text(`<p>a</p><script>var x = "código de barras '9'"</script><p>b</p>`)
	if got != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
}
