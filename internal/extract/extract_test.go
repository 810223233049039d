package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustsentry/internal/models"
)

func TestBlocks_None(t *testing.T) {
	assert.Empty(t, Blocks(""))
	assert.Empty(t, Blocks("fn main() {\n    println!(\"hi\");\n}\n"))
}

func TestBlocks_SingleBlockLines(t *testing.T) {
	code := "fn main() {\n    let p: *const i32 = std::ptr::null();\n    unsafe {\n        println!(\"{}\", *p);\n    }\n}\n"

	blocks := Blocks(code)
	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, 0, b.Index)
	assert.Equal(t, 3, b.LineStart)
	assert.Equal(t, 5, b.LineEnd)
	assert.Equal(t, models.BlockFlagged, b.Type)
	assert.Equal(t, "unsafe {\n        println!(\"{}\", *p);\n    }", b.RawCode)
}

func TestBlocks_MultipleInOrder(t *testing.T) {
	code := "unsafe { a(); }\nfn f() {}\nunsafe{b();}\n"
	blocks := Blocks(code)
	require.Len(t, blocks, 2)
	assert.Equal(t, "unsafe { a(); }", blocks[0].RawCode)
	assert.Equal(t, 1, blocks[0].LineStart)
	assert.Equal(t, "unsafe{b();}", blocks[1].RawCode)
	assert.Equal(t, 3, blocks[1].LineStart)
	assert.Equal(t, 3, blocks[1].LineEnd)
	assert.Equal(t, 1, blocks[1].Index)
}

func TestBlocks_NestedBracesKeptWhole(t *testing.T) {
	code := "unsafe {\n    if x { y(); }\n    unsafe { z(); }\n}"
	blocks := Blocks(code)
	require.Len(t, blocks, 1)
	assert.Equal(t, code, blocks[0].RawCode)
	assert.Equal(t, 1, blocks[0].LineStart)
	assert.Equal(t, 4, blocks[0].LineEnd)
}

func TestBlocks_IgnoresCommentsAndStrings(t *testing.T) {
	code := `// unsafe { not code }
/* unsafe { /* nested */ still comment } */
let s = "unsafe { in a string }";
let r = r#"unsafe { raw "quoted" }"#;
unsafe { let c = '}'; let q = "}"; f::<'static>(); }
`
	blocks := Blocks(code)
	require.Len(t, blocks, 1)
	assert.Equal(t, `unsafe { let c = '}'; let q = "}"; f::<'static>(); }`, blocks[0].RawCode)
	assert.Equal(t, 5, blocks[0].LineStart)
}

func TestBlocks_UnsafeFnAndImplNotBlocks(t *testing.T) {
	code := "unsafe fn f() {}\nunsafe impl Send for X {}\nmy_unsafe {}\n"
	assert.Empty(t, Blocks(code))
}

func TestBlocks_UnterminatedDropped(t *testing.T) {
	assert.Empty(t, Blocks("unsafe { never closed"))
}

func TestBlocks_MultibyteBeforeBlock(t *testing.T) {
	code := "// héllo wörld\nunsafe { ptr::read(p) }"
	blocks := Blocks(code)
	require.Len(t, blocks, 1)
	assert.Equal(t, "unsafe { ptr::read(p) }", blocks[0].RawCode)
	assert.Equal(t, 2, blocks[0].LineStart)
}

func TestBlocks_PrefixedLiterals(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{
			name: "raw byte string with quote",
			code: "let a = br#\"x \" y\"#;\nunsafe { *p }\n",
			want: []string{"unsafe { *p }"},
		},
		{
			name: "raw string",
			code: "let a = r#\"x \" y\"#;\nunsafe { *p }\n",
			want: []string{"unsafe { *p }"},
		},
		{
			name: "byte string hides keyword",
			code: "let a = b\"unsafe { }\";\nunsafe { f() }",
			want: []string{"unsafe { f() }"},
		},
		{
			name: "byte char brace",
			code: "let a = b'{';\nunsafe { g() }",
			want: []string{"unsafe { g() }"},
		},
		{
			name: "c string and raw c string",
			code: "let a = c\"}\"; let b = cr#\"\"}\"#;\nunsafe { h() }",
			want: []string{"unsafe { h() }"},
		},
		{
			name: "identifiers ending in b and c",
			code: "let ab = 1; let c = ab;\nunsafe { k(c) }",
			want: []string{"unsafe { k(c) }"},
		},
		{
			name: "unsafe inside raw byte string",
			code: "let a = br\"unsafe { x }\";\nunsafe { y() }",
			want: []string{"unsafe { y() }"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := Blocks(tt.code)
			got := make([]string, 0, len(blocks))
			for _, b := range blocks {
				got = append(got, b.RawCode)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
