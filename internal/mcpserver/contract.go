package mcpserver

// IntakeFormatContract describes the email layout the extractor understands.
const IntakeFormatContract = `# Intake Email Format

An intake request is a single email from the configured sender.

## Subject

The subject MUST start with ` + "`TASK`" + `. The task tag is the text after the
first ` + "`TASK`" + ` up to the first whitespace:

    TASK12345 Architecture review for billing
        -> task tag "12345"

Messages whose subject does not start with ` + "`TASK`" + `, or that carry no tag,
are left in the mailbox untouched.

## Body

Everything after the ` + "`MIME-Version: 1.0`" + ` header line is the body. Soft line
breaks, carriage returns, newlines and tabs are removed; HTML markup is kept.

Fields are label-delimited and end at the next ` + "`<br>`" + `:

| Label             | Field            | Required |
|-------------------|------------------|----------|
| ` + "`Request Name: `" + ` | title            | no, defaults to "NEW VSTS WORK ITEM" |
| ` + "`GBL#: `" + `         | governing link   | no |
| ` + "`PyxIS#: `" + `       | external ref     | no |

The normalized body becomes the description of both work items.

## Result

Each accepted message creates a parent item and a child item with identical
fields. The child is then linked under the parent.
`
