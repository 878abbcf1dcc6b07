package mcpserver

// CardFormatContract describes how a notebook cell becomes a flashcard.
const CardFormatContract = `# Flashcard Cell Format

A markdown cell is a flashcard when its source contains a metadata block,
an HTML comment that opens with ` + "`<!--`" + `.

## Structure

` + "```" + `markdown
<!--{"id": "1700000000001"}-->
**What does a buffered channel do?**
It blocks the sender only when the buffer is full.

$x^2$ inline math and $$\sum_i x_i$$ display math are kept for the viewer.
![diagram](attachment:diagram.png)
` + "```" + `

## Rules

1. **Metadata block.** Only the first ` + "`<!--...-->`" + ` span counts. Its interior is
   empty (a new card) or a JSON object whose "id" is a string or integer.
   Anything else, including an opener that is never closed, makes the cell
   malformed and it is skipped.
2. **id.** Written by the sync after the note is created. Do not invent ids.
   Copying a cell together with its id makes two cells share one note.
3. **Head.** The first ` + "`**...**`" + ` span is the card front. It must not be
   empty. Everything else, rendered to HTML, is the back.
4. **Math.** ` + "`$...$`" + ` becomes ` + "`\\(...\\)`" + ` and ` + "`$$...$$`" + ` becomes
   ` + "`\\[...\\]`" + `. Write ` + "`\\$`" + ` for a literal dollar sign.
5. **Images.** ` + "`attachment:NAME`" + ` references must name an attachment of
   the same cell. The image is uploaded under its content hash.
6. **Ownership.** Notebooks win: a sync overwrites remote edits. Notes in the
   deck that no cell refers to are orphans and are removed only by prune.
`
