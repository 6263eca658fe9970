// Package sql renders checked-in report query templates for PostgreSQL.
package sql

/*
Report Template Syntax

# Placeholders

Templates mark substitution points with double curly braces around an
upper-case identifier:

	{{DATE_FILTER}}

Render values may be keyed in any case; keys are normalized to UPPER_SNAKE
before lookup, so "dateFilter", "date_filter" and "DATE_FILTER" all fill
{{DATE_FILTER}}.

# Reserved placeholders

	{{USER_FILTER}}   derived from filterInternal / filterFree, never caller supplied
	{{TIMEZONE}}      filled from the request scope when not supplied

AND-prefixed optional clauses (the template writes a leading AND, or the value
carries one):

	DATE_FILTER, TIME_FILTER_REACTIONS, TIME_FILTER_VIEWS, TIME_FILTER_SAVES,
	TIMEFILTER, DOMAIN_FILTER

When one of these has no value, the placeholder is removed together with the
AND in front of it.

# Example

	-- signups per day, excluding internal and free-mail users
	SELECT date_trunc('day', u.created_at AT TIME ZONE '{{TIMEZONE}}') AS day, COUNT(*)
	FROM users AS u
	WHERE 1=1
	  AND {{USER_FILTER}}
	  AND {{DATE_FILTER}}
	GROUP BY 1
	ORDER BY 1

Rendered with no values and both filter flags false:

	-- template: signups_per_day
	SELECT date_trunc('day', u.created_at AT TIME ZONE 'UTC') AS day, COUNT(*)
	FROM users AS u
	WHERE 1=1
	GROUP BY 1
	ORDER BY 1

# Escaping

String values are quote-doubled ('' for ') unless they are recognizably a
clause ("AND ...", "OR ...", a keyword-bearing expression, or
column OP 'literal') or fill an AND-prefixed placeholder. Clause values are
trusted: callers accepting request input run CheckParameterForInjection first.
Numbers and booleans are written literally; 0 and false are values, not absence.
*/
